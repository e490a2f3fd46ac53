package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const maxBodyBytes = 1 << 20

func tenantID(r *http.Request) string {
	t, _ := currentTenant(r.Context())
	return t.ID
}

// decodeJSON reads one JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "bad json"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeInvalidRequest(w, r, msg)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeInvalidRequest(w, r, key+" must be an integer")
		return 0, false
	}
	return v, true
}

func queryBool(w http.ResponseWriter, r *http.Request, key string) (bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeInvalidRequest(w, r, key+" must be a boolean")
		return false, false
	}
	return v, true
}

type idRequest struct {
	ID string `json:"id"`
}
