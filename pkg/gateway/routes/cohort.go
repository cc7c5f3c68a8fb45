package routes

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/synaptica-ai/reporting/pkg/analytics/cohort"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/gateway/middleware"
)

type CohortHandler struct {
	service      *cohort.Service
	definitions  *cohort.DefinitionRepository
	materializer *cohort.Materializer
	timeout      time.Duration
}

type HandlerOption func(*CohortHandler)

func WithDefinitions(repo *cohort.DefinitionRepository) HandlerOption {
	return func(h *CohortHandler) { h.definitions = repo }
}

func WithMaterializer(m *cohort.Materializer) HandlerOption {
	return func(h *CohortHandler) { h.materializer = m }
}

// WithEvaluationTimeout bounds synchronous evaluations.
func WithEvaluationTimeout(d time.Duration) HandlerOption {
	return func(h *CohortHandler) { h.timeout = d }
}

func NewCohortHandler(service *cohort.Service, opts ...HandlerOption) *CohortHandler {
	h := &CohortHandler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *CohortHandler) Register(r *mux.Router) {
	r.HandleFunc("/cohort/evaluate", h.handleEvaluate).Methods(http.MethodPost)
	r.HandleFunc("/cohort/export", h.handleExport).Methods(http.MethodPost)
	r.HandleFunc("/cohort/sql/parse", h.handleParseSQL).Methods(http.MethodPost)
	r.HandleFunc("/cohort/sql/execute", h.handleExecuteSQL).Methods(http.MethodPost)

	if h.definitions != nil {
		r.HandleFunc("/cohort/definitions", h.handleCreateDefinition).Methods(http.MethodPost)
		r.HandleFunc("/cohort/definitions", h.handleListDefinitions).Methods(http.MethodGet)
		r.HandleFunc("/cohort/definitions/{id}", h.handleGetDefinition).Methods(http.MethodGet)
	}
	if h.materializer != nil {
		r.HandleFunc("/cohort/materializations", h.handleMaterialize).Methods(http.MethodPost)
		r.HandleFunc("/cohort/materializations", h.handleListMaterializations).Methods(http.MethodGet)
		r.HandleFunc("/cohort/materializations/{id}", h.handleGetMaterialization).Methods(http.MethodGet)
	}
}

func (h *CohortHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func scopeOf(ids []models.SubjectID) *cohort.Cohort {
	if ids == nil {
		return nil
	}
	return cohort.New(ids...)
}

func (h *CohortHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.CohortEvaluateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	spec, err := query.Unmarshal(req.Spec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if req.CohortID == "" {
		req.CohortID = uuid.NewString()
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	start := time.Now()
	result, err := h.service.Evaluate(ctx, spec, scopeOf(req.ScopeIDs))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.CohortResult{
		CohortID:  req.CohortID,
		Kind:      string(spec.Kind()),
		MemberIDs: result.Members(),
		Count:     result.Size(),
		QueryTime: time.Since(start),
	})
}

func (h *CohortHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.CohortEvaluateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	spec, err := query.Unmarshal(req.Spec)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	result, err := h.service.Evaluate(ctx, spec, scopeOf(req.ScopeIDs))
	if err != nil {
		respondError(w, r, err)
		return
	}
	var csvBody bytes.Buffer
	if err := h.service.ExportCohort(ctx, result, &csvBody); err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="cohort.csv"`)
	if _, err := csvBody.WriteTo(w); err != nil {
		logger.Log.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Error("Cohort export interrupted")
	}
}

func (h *CohortHandler) handleParseSQL(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	params, err := h.service.ParseSQLQuery(req.Query)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"parameters": params})
}

func (h *CohortHandler) handleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.SQLExecuteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	start := time.Now()
	result, err := h.service.ExecuteSQLQuery(ctx, req.Query, req.Parameters)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.CohortResult{
		CohortID:  uuid.NewString(),
		Kind:      string(query.KindSQL),
		MemberIDs: result.Members(),
		Count:     result.Size(),
		QueryTime: time.Since(start),
	})
}

func (h *CohortHandler) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.CohortDefinition
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	saved, err := h.definitions.Create(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (h *CohortHandler) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.definitions.List(r.Context(), limitParam(r, 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, defs)
}

func (h *CohortHandler) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.definitions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (h *CohortHandler) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.CohortMaterializeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.RequestedBy == "" {
		if claims, ok := middleware.UserFromContext(r.Context()); ok {
			req.RequestedBy = claims.Subject()
		}
	}
	job, err := h.materializer.Enqueue(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (h *CohortHandler) handleListMaterializations(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.materializer.List(r.Context(), r.URL.Query().Get("definition_id"), limitParam(r, 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *CohortHandler) handleGetMaterialization(w http.ResponseWriter, r *http.Request) {
	job, err := h.materializer.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
