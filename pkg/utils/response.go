package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondKindError 发送带错误类别的响应，kind 为空时与 RespondError 相同
func RespondKindError(w http.ResponseWriter, status int, kind, message string) {
	if kind == "" {
		RespondError(w, status, message)
		return
	}
	RespondJSON(w, status, map[string]string{"error": message, "kind": kind})
}
