// Package handler serves the read-only HTTP API over the live book, its
// statistics and the archive.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultDepth = 20
	maxDepth     = 500
	defaultLimit = 50
	maxLimit     = 1000
)

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// intParam reads a positive integer query parameter, falling back to def and
// capping at upper.
func intParam(r *http.Request, name string, def, upper int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errBadParam(name)
	}
	return min(n, upper), nil
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid " + string(e) }
