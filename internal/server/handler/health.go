package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// ReportSource exposes the last cycle's report.
type ReportSource interface {
	LastReport() (domain.CycleReport, bool)
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	reports ReportSource
	paper   bool
}

// NewHealthHandler creates a HealthHandler. reports may be nil when no
// cycles run in this process.
func NewHealthHandler(reports ReportSource, paper bool) *HealthHandler {
	return &HealthHandler{reports: reports, paper: paper}
}

type healthResponse struct {
	Status    string              `json:"status"`
	Timestamp string              `json:"timestamp"`
	Paper     bool                `json:"paper"`
	LastCycle *domain.CycleReport `json:"last_cycle,omitempty"`
}

// HealthCheck reports liveness and the most recent cycle.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Paper:     h.paper,
	}
	if h.reports != nil {
		if rep, ok := h.reports.LastReport(); ok {
			resp.LastCycle = &rep
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
