// Package inspection exposes a read-only HTTP API over saga instance state
// and history, grounded on the teacher's scheduler.Handler
// RegisterRoutes/http.ServeMux convention. Responses use a saga-flavored
// envelope: responses to single-instance routes carry the SagaID the caller
// asked about, rather than the teacher's generic data/error wrapper; list
// responses carry no SagaID.
package inspection

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sagaflow/engine/correlation"
	"github.com/sagaflow/engine/orchestrator"
	"github.com/sagaflow/engine/saga"
	"github.com/sagaflow/engine/sagaerr"
	"github.com/sagaflow/engine/store"

	"errors"
)

// sagaEnvelope is the standard JSON response wrapper. SagaID is populated
// whenever the request was scoped to a single instance, so a caller can
// confirm the response lines up with the instance it asked about without
// re-parsing Data.
type sagaEnvelope struct {
	SagaID string `json:"saga_id,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// pageEnvelope wraps a list response with pagination metadata.
type pageEnvelope struct {
	Data     any `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// WriteJSON writes a JSON response with the given status code, scoped to
// sagaID when the request addressed a single instance.
func WriteJSON(w http.ResponseWriter, status int, sagaID string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(sagaEnvelope{SagaID: sagaID, Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(sagaEnvelope{Error: message})
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, items any, total, page, pageSize int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(pageEnvelope{
		Data:     items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// Handler serves the read-only inspection API: current state, step
// history, active step, status filters, and diagram export. Grounded on
// the teacher's scheduler.Handler RegisterRoutes/http.ServeMux convention.
type Handler struct {
	coordinator *orchestrator.Coordinator
	definitions *saga.Registry
}

// NewHandler creates an inspection Handler.
func NewHandler(coordinator *orchestrator.Coordinator, definitions *saga.Registry) *Handler {
	return &Handler{coordinator: coordinator, definitions: definitions}
}

// RegisterRoutes registers inspection API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sagas", h.listSagas)
	mux.HandleFunc("GET /api/correlations/{id}", h.findByCorrelationID)
	mux.HandleFunc("GET /api/sagas/{id}", h.getState)
	mux.HandleFunc("GET /api/sagas/{id}/history", h.getHistory)
	mux.HandleFunc("GET /api/sagas/{id}/active-step", h.getActiveStep)
	mux.HandleFunc("GET /api/definitions/{name}/{version}/diagram", h.getDiagram)
}

func (h *Handler) listSagas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		TenantID:       q.Get("tenant_id"),
		Status:         store.Status(q.Get("status")),
		DefinitionName: q.Get("definition_name"),
	}
	page := 1
	pageSize := 50
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil && v > 0 && v <= 500 {
		pageSize = v
	}
	f.Offset = (page - 1) * pageSize
	f.Limit = pageSize

	instances, err := h.coordinator.ListSagas(r.Context(), f)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WritePaginated(w, instances, len(instances), page, pageSize)
}

// findByCorrelationID resolves the saga instances started under a caller's
// business correlation key; ?include_completed=true also returns sagas in
// a terminal status.
func (h *Handler) findByCorrelationID(w http.ResponseWriter, r *http.Request) {
	corrID := r.PathValue("id")
	q := r.URL.Query()
	opts := correlation.QueryOptions{
		IncludeCompleted: q.Get("include_completed") == "true",
	}
	if v, err := strconv.Atoi(q.Get("max_results")); err == nil && v > 0 {
		opts.MaxResults = v
	}
	instances, err := h.coordinator.FindByCorrelationID(r.Context(), corrID, opts)
	if err != nil {
		if errors.Is(err, sagaerr.ErrInvalidArgument) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, "", instances)
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := h.coordinator.GetState(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, id, inst)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := h.coordinator.GetState(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, id, inst.StepHistory)
}

// getActiveStep returns the name of the step currently in flight, or null
// when the saga isn't Running (completed, compensating, or terminal sagas
// have no "active" forward step).
func (h *Handler) getActiveStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := h.coordinator.GetState(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if inst.Status != store.StatusRunning {
		WriteJSON(w, http.StatusOK, id, nil)
		return
	}
	def, err := h.definitions.Get(inst.DefinitionName, inst.DefinitionVersion)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inst.CurrentStepIndex >= len(def.Steps) {
		WriteJSON(w, http.StatusOK, id, nil)
		return
	}
	WriteJSON(w, http.StatusOK, id, def.Steps[inst.CurrentStepIndex].Name)
}

func (h *Handler) getDiagram(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid version")
		return
	}
	def, err := h.definitions.Get(name, version)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ExportDiagram(def)))
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, sagaerr.ErrNotFound) {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}
