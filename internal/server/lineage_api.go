package server

import (
	"context"
	"net/http"

	"github.com/jacksonlee411/metaregistry/internal/routing"
	lineagetypes "github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
	lineageservices "github.com/jacksonlee411/metaregistry/modules/lineage/services"
)

type retireRequest struct {
	EntityID string `json:"entity_id"`
}

func (s *server) handleRegisterEntity(w http.ResponseWriter, r *http.Request) {
	var req lineageservices.RegisterEntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := s.engine.RegisterEntity(r.Context(), tenantID(r), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, n)
}

func (s *server) handleRetireEntity(w http.ResponseWriter, r *http.Request) {
	var req retireRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.RetireEntity(r.Context(), tenantID(r), req.EntityID); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var req lineageservices.AddEdgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := s.engine.AddEdge(r.Context(), tenantID(r), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusCreated, e)
}

func (s *server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	s.handleTraversal(w, r, s.engine.GetUpstream)
}

func (s *server) handleDownstream(w http.ResponseWriter, r *http.Request) {
	s.handleTraversal(w, r, s.engine.GetDownstream)
}

type traversal func(ctx context.Context, tenantID string, entityID string, depth int) (lineagetypes.LineageGraph, error)

func (s *server) handleTraversal(w http.ResponseWriter, r *http.Request, walk traversal) {
	depth, ok := queryInt(w, r, "depth")
	if !ok {
		return
	}
	g, err := walk(r.Context(), tenantID(r), r.URL.Query().Get("entity_id"), depth)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, g)
}

func (s *server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.LineageCoverage(r.Context(), tenantID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, c)
}
