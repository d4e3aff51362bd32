package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/taxonomy-cli/internal/engine"
	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func actorOf(r *http.Request, bodyActor string) string {
	if a := strings.TrimSpace(bodyActor); a != "" {
		return a
	}
	return strings.TrimSpace(r.Header.Get("X-Actor"))
}

// --- Taxonomy ---

func (s *Server) handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Fields().Fields)
}

func (s *Server) handleGetTaxonomy(w http.ResponseWriter, r *http.Request) {
	terms, err := s.svc.GetTaxonomy(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handleAddTerm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Value    string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, "", "invalid request body")
		return
	}
	term, inserted, err := s.svc.AddCanonicalTerm(r.Context(), req.Category, req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"term": term, "inserted": inserted})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := s.svc.Classify(r.Context(), q.Get("category"), q.Get("value"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.UsageFilter{Category: model.Category(q.Get("category"))}

	var ok bool
	if filter.MinCount, ok = intParam(r, "min_count", 0); !ok {
		badRequest(w, r, "min_count", "must be an integer")
		return
	}
	if filter.Limit, ok = intParam(r, "limit", 100); !ok {
		badRequest(w, r, "limit", "must be an integer")
		return
	}
	if filter.Offset, ok = intParam(r, "offset", 0); !ok {
		badRequest(w, r, "offset", "must be an integer")
		return
	}
	if raw := q.Get("promoted"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, r, "promoted", "must be a boolean")
			return
		}
		filter.Promoted = &b
	}

	rows, err := s.svc.GetCustomUsage(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- Projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleUpsertProject(w http.ResponseWriter, r *http.Request) {
	var p model.Project
	if err := decodeBody(r, &p); err != nil {
		badRequest(w, r, "", "invalid request body")
		return
	}
	if err := s.svc.UpsertProject(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpsertInvestigator(w http.ResponseWriter, r *http.Request) {
	var inv model.Investigator
	if err := decodeBody(r, &inv); err != nil {
		badRequest(w, r, "", "invalid request body")
		return
	}
	if err := s.svc.UpsertInvestigator(r.Context(), inv); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleLinkInvestigator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvestigatorID string `json:"investigator_id"`
		Role           string `json:"role"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, "", "invalid request body")
		return
	}
	link := model.ProjectInvestigator{
		GrantNumber:    chi.URLParam(r, "grant"),
		InvestigatorID: req.InvestigatorID,
		Role:           req.Role,
	}
	if err := s.svc.LinkInvestigator(r.Context(), link); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// --- Metadata edits ---

func (s *Server) handleSubmitField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value   any    `json:"value"`
		Actor   string `json:"actor"`
		Context string `json:"context"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, "", "invalid request body")
		return
	}
	value, err := model.FromAny(req.Value)
	if err != nil {
		badRequest(w, r, "value", err.Error())
		return
	}
	actor := actorOf(r, req.Actor)
	if s.limiter != nil && actor != "" && !s.limiter.Allow(actor) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "edit rate exceeded", RequestID: RequestID(r.Context())})
		return
	}

	res, err := s.svc.SubmitMetadataEdit(r.Context(), engine.EditRequest{
		EntityID:  chi.URLParam(r, "grant"),
		FieldName: chi.URLParam(r, "field"),
		Value:     value,
		Actor:     actor,
		Context:   req.Context,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLatestField(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.LatestValue(r.Context(), chi.URLParam(r, "grant"), chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no value recorded", RequestID: RequestID(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleFieldHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.History(r.Context(), chi.URLParam(r, "grant"), chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []model.ProvenanceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ProvenanceFilter{
		EntityID:  q.Get("entity_id"),
		FieldName: q.Get("field_name"),
		Actor:     q.Get("actor"),
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, r, name, "must be an RFC 3339 timestamp")
			return
		}
		*dst = &t
	}
	page, ok := intParam(r, "page", 1)
	if !ok {
		badRequest(w, r, "page", "must be an integer")
		return
	}
	size, ok := intParam(r, "page_size", 0)
	if !ok {
		badRequest(w, r, "page_size", "must be an integer")
		return
	}

	res, err := s.svc.GetProvenance(r.Context(), filter, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Graph ---

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.GetGraph(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	shared, err := s.svc.GetSharedConnections(r.Context(), chi.URLParam(r, "grant"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, r, "id", "is required")
		return
	}
	neighbors, ok, err := s.svc.Neighbors(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown node", RequestID: RequestID(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, neighbors)
}

// --- Maintenance ---

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SweepPromotions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Reconcile(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
