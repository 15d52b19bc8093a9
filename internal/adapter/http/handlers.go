package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/link"
	"github.com/planvault/planvault/internal/domain/plan"
	"github.com/planvault/planvault/internal/domain/query"
	"github.com/planvault/planvault/internal/service"
)

// Handlers bundles the dependencies of all HTTP handlers.
type Handlers struct {
	Tenants *service.TenantFactories
	Metrics *adapterotel.Metrics
	Log     *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(tenants *service.TenantFactories, metrics *adapterotel.Metrics, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{Tenants: tenants, Metrics: metrics, Log: log}
}

// Healthz reports service liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPlans returns every plan manifest of the request's tenant.
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	plans, err := factory.PlanRepo().ListPlans(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to list plans")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// CreatePlan creates a new empty plan.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		CreatedBy   string `json:"createdBy"`
	}](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	created, err := factory.PlanRepo().CreatePlan(r.Context(), &plan.Manifest{
		Name:        body.Name,
		Description: body.Description,
		CreatedBy:   body.CreatedBy,
	})
	if err != nil {
		writeDomainError(w, err, "failed to create plan")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetPlan returns one plan manifest.
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID := urlParam(r, "id")
	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	m, err := factory.PlanRepo().LoadManifest(r.Context(), planID)
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeletePlan removes a plan and all its entities and links.
func (h *Handlers) DeletePlan(w http.ResponseWriter, r *http.Request) {
	planID := urlParam(r, "id")
	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	if err := factory.PlanRepo().DeletePlan(r.Context(), planID); err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntities queries entities of one kind within a plan. Filters come
// from the "filter" query parameter as a JSON array of conditions; sorting
// and paging from sort_by, desc, limit, and offset.
func (h *Handlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	planID := urlParam(r, "id")
	kind := entity.Kind(urlParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", kind))
		return
	}

	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	if ok, err := factory.PlanRepo().PlanExists(r.Context(), planID); err != nil || !ok {
		if err != nil {
			writeDomainError(w, err, "failed to check plan")
			return
		}
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	page, err := factory.EntityRepo(kind, planID).Query(r.Context(), q)
	if err != nil {
		writeDomainError(w, err, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetEntity returns one entity by kind and ID.
func (h *Handlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	planID := urlParam(r, "id")
	kind := entity.Kind(urlParam(r, "kind"))
	entityID := urlParam(r, "entityID")
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", kind))
		return
	}

	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	ent, err := factory.EntityRepo(kind, planID).FindByID(r.Context(), entityID)
	if err != nil {
		writeDomainError(w, err, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// ListLinks returns a plan's links, optionally filtered by relation type.
func (h *Handlers) ListLinks(w http.ResponseWriter, r *http.Request) {
	planID := urlParam(r, "id")
	relation := link.RelationType(r.URL.Query().Get("relation"))

	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	if ok, err := factory.PlanRepo().PlanExists(r.Context(), planID); err != nil || !ok {
		if err != nil {
			writeDomainError(w, err, "failed to check plan")
			return
		}
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	links, err := factory.LinkRepo(planID).FindAllLinks(r.Context(), relation)
	if err != nil {
		writeDomainError(w, err, "failed to list links")
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// ExecuteBatch runs a batch of operations against a plan.
func (h *Handlers) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	planID := urlParam(r, "id")
	body, ok := readJSON[struct {
		Operations []service.Op `json:"operations"`
	}](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	factory, err := h.Tenants.For(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant unavailable")
		return
	}
	engine := service.NewBatchEngine(factory, h.Tenants.Tenant(r.Context()), h.Log, h.Metrics)
	result, err := engine.Execute(r.Context(), planID, body.Operations)
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryFromRequest parses filter, sort, and paging query parameters.
func queryFromRequest(r *http.Request) (query.Query, error) {
	var q query.Query
	params := r.URL.Query()

	if raw := params.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Filter); err != nil {
			return q, fmt.Errorf("invalid filter: %v", err)
		}
	}
	if field := params.Get("sort_by"); field != "" {
		desc := params.Get("desc") == "true"
		q.Sort = []query.SortKey{{Field: field, Desc: desc}}
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = n
	}
	if raw := params.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset %q", raw)
		}
		q.Offset = n
	}
	return q, nil
}
