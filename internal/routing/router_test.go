package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	c, err := NewClassifier(testAllowlist(), "metadatad")
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(c, nil)
}

func TestRouter_PanicBecomes500JSON(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	r.Handle(http.MethodGet, "/api/v1/concepts", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/concepts", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	var body ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != CodeInternal || strings.Contains(body.Message, "boom") {
		t.Fatalf("body=%+v", body)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	r.Handle(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound, CodeNotFound},
		{http.MethodGet, "/unknown", http.StatusNotFound, CodeNotFound},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s %s status=%d", tc.method, tc.path, rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			t.Fatalf("content-type=%q", rec.Header().Get("Content-Type"))
		}
		var body ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Code != tc.code || body.Meta.Path != tc.path || body.Meta.Method != tc.method {
			t.Fatalf("body=%+v", body)
		}
	}
}

func TestRouter_HandleRejectsUnlistedRoute(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	r.Handle(http.MethodDelete, "/api/v1/concepts", http.NotFoundHandler())
}
