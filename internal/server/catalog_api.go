package server

import (
	"net/http"

	"github.com/jacksonlee411/metaregistry/internal/engine"
	"github.com/jacksonlee411/metaregistry/internal/routing"
	catalogtypes "github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	catalogservices "github.com/jacksonlee411/metaregistry/modules/catalog/services"
)

type conceptListResponse struct {
	Concepts []catalogtypes.Concept `json:"concepts"`
}

type conceptDetailResponse struct {
	Concept catalogtypes.Concept `json:"concept"`
	Aliases []catalogtypes.Alias `json:"aliases"`
}

type conceptUpdateRequest struct {
	ID string `json:"id"`
	catalogservices.ConceptPatch
}

type aliasListResponse struct {
	Aliases []catalogtypes.Alias `json:"aliases"`
}

type resolveResponse struct {
	Text    string                     `json:"text"`
	Matches []catalogtypes.RankedMatch `json:"matches"`
}

type convertResponse struct {
	Identifier string `json:"identifier"`
	From       string `json:"from"`
	To         string `json:"to"`
	Result     string `json:"result"`
}

func (s *server) handleListConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier, ok := queryInt(w, r, "tier")
	if !ok {
		return
	}
	includeInactive, ok := queryBool(w, r, "include_inactive")
	if !ok {
		return
	}
	out, err := s.engine.ListConcepts(r.Context(), tenantID(r), engine.ConceptQuery{
		Domain:          q.Get("domain"),
		Tier:            tier,
		PackID:          q.Get("pack_id"),
		Search:          q.Get("search"),
		IncludeInactive: includeInactive,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, conceptListResponse{Concepts: out})
}

func (s *server) handleCreateConcept(w http.ResponseWriter, r *http.Request) {
	var req catalogservices.CreateConceptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.engine.CreateConcept(r.Context(), tenantID(r), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusCreated, c)
}

// handleGetConcept accepts a canonical key or an id in ?key=.
func (s *server) handleGetConcept(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	c, err := s.engine.GetConcept(r.Context(), tenantID(r), key)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	aliases, err := s.engine.ListAliases(r.Context(), tenantID(r), c.ID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, conceptDetailResponse{Concept: c, Aliases: aliases})
}

func (s *server) handleUpdateConcept(w http.ResponseWriter, r *http.Request) {
	var req conceptUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.engine.UpdateConcept(r.Context(), tenantID(r), req.ID, req.ConceptPatch)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, c)
}

func (s *server) handleDeactivateConcept(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.engine.DeactivateConcept(r.Context(), tenantID(r), req.ID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, c)
}

func (s *server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.ListAliases(r.Context(), tenantID(r), r.URL.Query().Get("concept"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, aliasListResponse{Aliases: out})
}

func (s *server) handleCreateAlias(w http.ResponseWriter, r *http.Request) {
	var req catalogservices.CreateAliasRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.engine.CreateAlias(r.Context(), tenantID(r), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusCreated, a)
}

func (s *server) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.DeleteAlias(r.Context(), tenantID(r), req.ID); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleResolveAlias(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.engine.ResolveAlias(r.Context(), tenantID(r), q.Get("text"), q.Get("domain_hint"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if out == nil {
		out = []catalogtypes.RankedMatch{}
	}
	routing.WriteJSON(w, http.StatusOK, resolveResponse{Text: q.Get("text"), Matches: out})
}

func (s *server) handleConvertName(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.engine.ResolveName(q.Get("identifier"), q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, convertResponse{Identifier: q.Get("identifier"), From: q.Get("from"), To: q.Get("to"), Result: out})
}

func (s *server) handleSearchGlossary(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.SearchGlossary(r.Context(), tenantID(r), r.URL.Query().Get("q"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, out)
}
