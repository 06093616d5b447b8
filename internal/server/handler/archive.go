package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/pipeline"
)

// ArchiveHandler lists and reads archived stats objects.
type ArchiveHandler struct {
	reader domain.BlobReader
	prefix string
	symbol string
}

// NewArchiveHandler browses archived stats of symbol under prefix.
func NewArchiveHandler(reader domain.BlobReader, prefix, symbol string) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, prefix: prefix, symbol: symbol}
}

// ListObjects responds with the archived objects, optionally for one UTC day.
// GET /api/archive?day=2006-01-02
func (h *ArchiveHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			writeError(w, http.StatusBadRequest, "invalid day")
			return
		}
	}
	infos, err := pipeline.ListArchive(r.Context(), h.reader, h.prefix, h.symbol, day)
	if err != nil {
		writeError(w, http.StatusBadGateway, "listing archive failed")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": infos})
}

// GetObject responds with the decoded records of one archived object.
// GET /api/archive/object?key=...
func (h *ArchiveHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}
	records, err := pipeline.ReadArchive(r.Context(), h.reader, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "object not found")
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "reading archive failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "records": records})
}
