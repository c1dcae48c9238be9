package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderMarkdownFormatsAndSanitizes(t *testing.T) {
	out := string(RenderMarkdown("El dataset tiene **100** filas.\n\n| MAKE | N |\n|---|---|\n| ACURA | 2 |\n\n<script>alert(1)</script>"))

	require.Contains(t, out, "<strong>100</strong>")
	require.Contains(t, out, "<table>")
	require.NotContains(t, out, "<script>")
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	err := SendSSEEvent(rec, rec, "delta", map[string]string{"content": "hola"})
	require.NoError(t, err)

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "event: delta\ndata: {\"content\":\"hola\"}\n\n", rec.Body.String())
	require.True(t, rec.Flushed)
}

func TestSendSSEEventMarshalError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := SendSSEEvent(rec, rec, "delta", make(chan int))
	require.Error(t, err)
	require.Empty(t, rec.Body.String())
}

func TestRespondKindError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondKindError(rec, http.StatusBadGateway, "completion", "boom")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&body))
	require.Equal(t, map[string]string{"error": "boom", "kind": "completion"}, body)

	rec = httptest.NewRecorder()
	RespondKindError(rec, http.StatusBadRequest, "", "bad")
	require.JSONEq(t, `{"error":"bad"}`, rec.Body.String())
}
