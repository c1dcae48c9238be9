package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Authorization string
	Model         string `json:"model"`
	Stream        bool   `json:"stream"`
	Messages      []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newOpenAIServer(t *testing.T, fragments []string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		captured.Authorization = r.Header.Get("Authorization")

		if captured.Authorization != "Bearer sk-test" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
			return
		}

		if !captured.Stream {
			w.Header().Set("Content-Type", "application/json")
			content, _ := json.Marshal(strings.Join(fragments, ""))
			fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4-turbo","choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}]}`, content)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, fragment := range fragments {
			content, _ := json.Marshal(fragment)
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4-turbo\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s}}]}\n\n", content)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestOpenAIChatModelStream(t *testing.T) {
	var captured capturedRequest
	server := newOpenAIServer(t, []string{"El dataset ", "tiene 100 filas."}, &captured)
	defer server.Close()

	chatModel, err := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-4-turbo"})
	require.NoError(t, err)

	stream, err := chatModel.Stream(context.Background(), []*schema.Message{
		schema.SystemMessage("Eres un analista de datos."),
		schema.UserMessage("¿Cuántas filas tiene el dataset?"),
	})
	require.NoError(t, err)

	text, err := Collect(stream, nil)
	require.NoError(t, err)
	require.Equal(t, "El dataset tiene 100 filas.", text)

	require.Equal(t, "Bearer sk-test", captured.Authorization)
	require.Equal(t, "gpt-4-turbo", captured.Model)
	require.True(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	require.Equal(t, "system", captured.Messages[0].Role)
	require.Equal(t, "user", captured.Messages[1].Role)
}

func TestOpenAIChatModelGenerate(t *testing.T) {
	var captured capturedRequest
	server := newOpenAIServer(t, []string{"hola"}, &captured)
	defer server.Close()

	chatModel, err := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-4-turbo"})
	require.NoError(t, err)

	msg, err := chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hola")})
	require.NoError(t, err)
	require.Equal(t, "hola", msg.Content)
	require.False(t, captured.Stream)
}

func TestOpenAIChatModelRejectedCredential(t *testing.T) {
	var captured capturedRequest
	server := newOpenAIServer(t, nil, &captured)
	defer server.Close()

	chatModel, err := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-wrong", BaseURL: server.URL, Model: "gpt-4-turbo"})
	require.NoError(t, err)

	_, err = chatModel.Stream(context.Background(), []*schema.Message{schema.UserMessage("hola")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestNewOpenAIChatModelRequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIChatModel(OpenAIConfig{Model: "gpt-4-turbo"})
	require.Error(t, err)

	_, err = NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test"})
	require.Error(t, err)
}
