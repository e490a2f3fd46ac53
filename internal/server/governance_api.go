package server

import (
	"net/http"

	"github.com/jacksonlee411/metaregistry/internal/routing"
	governancetypes "github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

type evaluateResponse struct {
	Scope      string                      `json:"scope"`
	TargetID   string                      `json:"target_id,omitempty"`
	Violations []governancetypes.Violation `json:"violations"`
}

func (s *server) handleConformance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cached, ok := queryBool(w, r, "use_cached_snapshot")
	if !ok {
		return
	}
	res, err := s.engine.CheckConformance(r.Context(), tenantID(r), q.Get("entity_id"), q.Get("pack_id"), cached)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, res)
}

func (s *server) handleEvaluateRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.engine.EvaluateRules(r.Context(), tenantID(r), q.Get("scope"), q.Get("target_id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if out == nil {
		out = []governancetypes.Violation{}
	}
	routing.WriteJSON(w, http.StatusOK, evaluateResponse{Scope: q.Get("scope"), TargetID: q.Get("target_id"), Violations: out})
}
