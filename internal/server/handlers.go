package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/Heidric/shmbridge/internal/customerrors"
	"github.com/Heidric/shmbridge/internal/logger"
	"github.com/Heidric/shmbridge/internal/model"
)

func writeErr(w http.ResponseWriter, err error) {
	status := customerrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Log.Error().Err(err).Msg("request failed")
		customerrors.WriteError(w, status, "")
		return
	}
	customerrors.WriteError(w, status, err.Error())
}

// getMetricHandler answers GET /value/{oid}?mode=... with the plain value.
func (s *Server) getMetricHandler(w http.ResponseWriter, r *http.Request) {
	oid := chi.URLParam(r, "oid")

	metric, err := s.metrics.GetMetric(oid, r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, metric.Value)
}

func (s *Server) getMetricJSONHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		customerrors.WriteError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	var req model.ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		customerrors.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.OID) == "" {
		customerrors.WriteError(w, http.StatusBadRequest, "oid is required")
		return
	}

	metric, err := s.metrics.GetMetric(req.OID, req.Mode)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(metric)
}

func (s *Server) listMetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := s.metrics.ListMetrics()

	var b strings.Builder
	b.WriteString(`<html><head><title>Metrics List</title></head><body>
             <h1>Metrics</h1>
             <table border="1">
             <tr><th>OID</th><th>Name</th><th>Type</th><th>Value</th></tr>`)

	for _, m := range metrics {
		value := m.Value
		if m.Error != "" {
			value = "error: " + m.Error
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(m.OID), html.EscapeString(m.Name),
			html.EscapeString(m.Type), html.EscapeString(value))
	}

	b.WriteString("</table></body></html>")

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.metrics.Ping(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) readOnlyHandler(w http.ResponseWriter, r *http.Request) {
	customerrors.WriteError(w, http.StatusMethodNotAllowed, "")
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	customerrors.WriteError(w, http.StatusNotFound, "")
}
