package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/engine"
	"github.com/jacksonlee411/metaregistry/internal/metrics"
	"github.com/jacksonlee411/metaregistry/internal/routing"
)

// Entrypoint names this server's section of the routing allowlist.
const Entrypoint = "metadatad"

type HandlerOptions struct {
	Engine     *engine.Engine
	Tenants    Tenants
	Authorizer authorizer
	Allowlist  routing.Allowlist
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type server struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewHandler(opts HandlerOptions) (http.Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if opts.Authorizer == nil {
		return nil, errors.New("server: authorizer is required")
	}
	if len(opts.Tenants) == 0 {
		return nil, errors.New("server: no tenants configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	classifier, err := routing.NewClassifier(opts.Allowlist, Entrypoint)
	if err != nil {
		return nil, err
	}
	router := routing.NewRouter(classifier, logger)
	s := &server{engine: opts.Engine, metrics: m, logger: logger}

	router.Handle(http.MethodGet, "/health", http.HandlerFunc(s.handleHealth))
	router.Handle(http.MethodGet, "/metrics", m.Handler())

	router.Handle(http.MethodGet, "/api/v1/concepts", http.HandlerFunc(s.handleListConcepts))
	router.Handle(http.MethodPost, "/api/v1/concepts", http.HandlerFunc(s.handleCreateConcept))
	router.Handle(http.MethodGet, "/api/v1/concepts/detail", http.HandlerFunc(s.handleGetConcept))
	router.Handle(http.MethodPost, "/api/v1/concepts/update", http.HandlerFunc(s.handleUpdateConcept))
	router.Handle(http.MethodPost, "/api/v1/concepts/deactivate", http.HandlerFunc(s.handleDeactivateConcept))

	router.Handle(http.MethodGet, "/api/v1/aliases", http.HandlerFunc(s.handleListAliases))
	router.Handle(http.MethodPost, "/api/v1/aliases", http.HandlerFunc(s.handleCreateAlias))
	router.Handle(http.MethodPost, "/api/v1/aliases/delete", http.HandlerFunc(s.handleDeleteAlias))
	router.Handle(http.MethodGet, "/api/v1/aliases/resolve", http.HandlerFunc(s.handleResolveAlias))

	router.Handle(http.MethodGet, "/api/v1/naming/convert", http.HandlerFunc(s.handleConvertName))
	router.Handle(http.MethodGet, "/api/v1/glossary/search", http.HandlerFunc(s.handleSearchGlossary))

	router.Handle(http.MethodPost, "/api/v1/lineage/entities", http.HandlerFunc(s.handleRegisterEntity))
	router.Handle(http.MethodPost, "/api/v1/lineage/entities/retire", http.HandlerFunc(s.handleRetireEntity))
	router.Handle(http.MethodPost, "/api/v1/lineage/edges", http.HandlerFunc(s.handleAddEdge))
	router.Handle(http.MethodGet, "/api/v1/lineage/upstream", http.HandlerFunc(s.handleUpstream))
	router.Handle(http.MethodGet, "/api/v1/lineage/downstream", http.HandlerFunc(s.handleDownstream))
	router.Handle(http.MethodGet, "/api/v1/lineage/coverage", http.HandlerFunc(s.handleCoverage))

	router.Handle(http.MethodGet, "/api/v1/conformance", http.HandlerFunc(s.handleConformance))
	router.Handle(http.MethodGet, "/api/v1/rules/evaluate", http.HandlerFunc(s.handleEvaluateRules))

	var h http.Handler = router
	h = withAuthz(classifier, opts.Authorizer, logger, h)
	h = withTenantScope(classifier, opts.Tenants, h)
	h = m.InstrumentHandler(h, func(r *http.Request) string {
		if _, ok := classifier.Lookup(r.Method, r.URL.Path); ok {
			return r.URL.Path
		}
		return "unmatched"
	})
	return h, nil
}

type healthResponse struct {
	Status        string `json:"status"`
	Compatibility string `json:"compatibility"`
	EngineVersion string `json:"engine_version"`
}

// handleHealth reports 503 when the compatibility gate blocks every operation.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	gate := s.engine.Gate()
	resp := healthResponse{Status: "ok", Compatibility: string(gate.State()), EngineVersion: gate.EngineVersion()}
	status := http.StatusOK
	if gate.Check() != nil {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	routing.WriteJSON(w, status, resp)
}
