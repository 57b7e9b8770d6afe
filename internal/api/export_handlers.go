package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type exportRequest struct {
	URLs []string `json:"urls"`
	Type string   `json:"type"`
}

// exportURLs handles POST /v1/export. It echoes a URL list back as a
// downloadable text file (type "txt") or a one-column CSV (the default).
func (s *Server) exportURLs(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch strings.ToLower(req.Type) {
	case "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=urls.txt")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(strings.Join(req.URLs, "\n"))); err != nil {
			s.logger.Warn("write url export failed", zap.Error(err))
		}
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=urls.csv")
		w.WriteHeader(http.StatusOK)
		cw := csv.NewWriter(w)
		rows := make([][]string, 0, len(req.URLs)+1)
		rows = append(rows, []string{"URL"})
		for _, u := range req.URLs {
			rows = append(rows, []string{u})
		}
		if err := cw.WriteAll(rows); err != nil {
			s.logger.Warn("write url export failed", zap.Error(err))
		}
	default:
		writeError(s.logger, w, http.StatusBadRequest, "invalid export type")
	}
}
