package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	"github.com/zhouzirui/datachat/backend/internal/service/ai"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	chatservice "github.com/zhouzirui/datachat/backend/internal/service/chat"
	datasetservice "github.com/zhouzirui/datachat/backend/internal/service/dataset"
)

type noReply struct{}

func (noReply) Reply(context.Context, string, []chat.Message, func(string) error) (string, error) {
	return "", nil
}

func buildCSV(rows int) string {
	var b strings.Builder
	b.WriteString("MAKE,CO2EMISSIONS\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "ACURA,%d\n", 100+i)
	}
	return b.String()
}

func setupRouter(t *testing.T, files fstest.MapFS) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService(time.Hour)
	svc := analyst.NewService(chatSvc, datasetservice.NewLoader(files, "fuel.csv"), noReply{}, ai.NewPromptBuilder(100), 100)

	r := chi.NewRouter()
	r.Use(middleware.Session(chatSvc, middleware.SessionOptions{CookieName: "datachat_session"}))
	New(svc).RegisterRoutes(r)
	return r, chatSvc
}

func request(t *testing.T, r http.Handler, chatSvc *chatservice.Service, path string, withCredential bool) *httptest.ResponseRecorder {
	t.Helper()
	session, err := chatSvc.CreateSession(context.Background())
	require.NoError(t, err)
	if withCredential {
		require.NoError(t, chatSvc.SetCredential(context.Background(), session.ID, "sk-test"))
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(middleware.SessionHeader, session.ID)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestPreviewCapsAtHundredRows(t *testing.T) {
	r, chatSvc := setupRouter(t, fstest.MapFS{"fuel.csv": {Data: []byte(buildCSV(150))}})

	resp := request(t, r, chatSvc, "/dataset", true)
	require.Equal(t, http.StatusOK, resp.Code)

	var body previewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"MAKE", "CO2EMISSIONS"}, body.Columns)
	require.Equal(t, 100, body.Count)
	require.Equal(t, []string{"ACURA", "199"}, body.Rows[99])
}

func TestPreviewShortDatasetAndLimit(t *testing.T) {
	r, chatSvc := setupRouter(t, fstest.MapFS{"fuel.csv": {Data: []byte(buildCSV(40))}})

	resp := request(t, r, chatSvc, "/dataset", true)
	var body previewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 40, body.Count)

	resp = request(t, r, chatSvc, "/dataset?limit=5", true)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 5, body.Count)

	resp = request(t, r, chatSvc, "/dataset?limit=abc", true)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPreviewHeaderOnlyDataset(t *testing.T) {
	r, chatSvc := setupRouter(t, fstest.MapFS{"fuel.csv": {Data: []byte("MAKE,CO2EMISSIONS\n")}})

	resp := request(t, r, chatSvc, "/dataset", true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"source":"fuel.csv","columns":["MAKE","CO2EMISSIONS"],"rows":[],"count":0}`, resp.Body.String())
}

func TestPreviewErrors(t *testing.T) {
	r, chatSvc := setupRouter(t, fstest.MapFS{})

	resp := request(t, r, chatSvc, "/dataset", false)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = request(t, r, chatSvc, "/dataset", true)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Contains(t, resp.Body.String(), "No se pudo cargar el dataset: ")
	require.Contains(t, resp.Body.String(), `"kind":"dataset_load"`)
}
