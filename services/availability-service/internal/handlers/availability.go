package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/engine"
)

type resolver interface {
	Resolve(ctx context.Context, req engine.Request) (engine.Result, error)
}

type AvailabilityHandler struct {
	resolver resolver
	logger   *slog.Logger
}

func NewAvailabilityHandler(r resolver, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{resolver: r, logger: logger}
}

type availabilityRequest struct {
	EmployeeIDs     []string `json:"employeeIds"`
	DurationMinutes int      `json:"durationMinutes"`
	CompanyID       string   `json:"companyId"`
	StartDate       string   `json:"startDate"`
	EndDate         string   `json:"endDate"`
}

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type workerSuggestion struct {
	EmployeeID     string     `json:"employee_id"`
	AvailableSlots []slotItem `json:"available_slots"`
	TotalAvailable int        `json:"total_available"`
}

type searchPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type availabilityResponse struct {
	Suggestions  map[string]workerSuggestion `json:"suggestions,omitempty"`
	SearchPeriod *searchPeriod               `json:"search_period,omitempty"`
	Success      bool                        `json:"success"`
	Debug        map[string]any              `json:"debug"`
}

// Resolve implements POST /api/v1/scheduling/availability.
func (h *AvailabilityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	for i := range req.EmployeeIDs {
		req.EmployeeIDs[i] = strings.TrimSpace(req.EmployeeIDs[i])
	}

	rangeStart, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	rangeEnd, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid endDate")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), engine.Request{
		CompanyID:  req.CompanyID,
		WorkerIDs:  req.EmployeeIDs,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, engine.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, engine.ErrDataUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, calendar.ErrInvalidSettings):
			status = http.StatusUnprocessableEntity
		}
		h.logger.Warn("availability resolution failed", "company_id", req.CompanyID, "err", err)
		writeFailure(w, status, res.Diagnostics.Error)
		return
	}

	writeJSON(w, http.StatusOK, shapeResponse(res))
}

func shapeResponse(res engine.Result) availabilityResponse {
	suggestions := make(map[string]workerSuggestion, len(res.PerWorker))
	for id, wa := range res.PerWorker {
		slots := make([]slotItem, 0, len(wa.Slots))
		for _, s := range wa.Slots {
			slots = append(slots, slotItem{
				Start: s.Start.UTC().Format(time.RFC3339),
				End:   s.End.UTC().Format(time.RFC3339),
			})
		}
		suggestions[id] = workerSuggestion{
			EmployeeID:     id,
			AvailableSlots: slots,
			TotalAvailable: len(slots),
		}
	}

	debug := map[string]any{
		"per_worker_slot_counts": res.Diagnostics.SlotCounts,
		"elapsed_ms":             res.Diagnostics.ElapsedMS,
		"settings":               res.Diagnostics.Settings,
	}
	if len(res.Diagnostics.DegradedWorkers) > 0 {
		debug["degraded_workers"] = res.Diagnostics.DegradedWorkers
	}
	if len(res.Diagnostics.InvalidCommitments) > 0 {
		debug["invalid_commitments"] = res.Diagnostics.InvalidCommitments
	}
	if res.Diagnostics.Incomplete {
		debug["incomplete"] = true
	}
	if res.Diagnostics.EarliestSlot != nil {
		debug["earliest_slot"] = slotItem{
			Start: res.Diagnostics.EarliestSlot.Start.UTC().Format(time.RFC3339),
			End:   res.Diagnostics.EarliestSlot.End.UTC().Format(time.RFC3339),
		}
	}

	return availabilityResponse{
		Suggestions: suggestions,
		SearchPeriod: &searchPeriod{
			Start: res.SearchStart.UTC().Format(time.RFC3339),
			End:   res.SearchEnd.UTC().Format(time.RFC3339),
		},
		Success: true,
		Debug:   debug,
	}
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	if reason == "" {
		reason = "availability resolution failed"
	}
	writeJSON(w, status, availabilityResponse{
		Success: false,
		Debug:   map[string]any{"error": reason},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	encoded, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}
