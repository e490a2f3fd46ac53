package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/metaregistry/internal/engine"
	"github.com/jacksonlee411/metaregistry/internal/routing"
	catalogpersistence "github.com/jacksonlee411/metaregistry/modules/catalog/infrastructure/persistence"
	governancepersistence "github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/persistence"
	lineagepersistence "github.com/jacksonlee411/metaregistry/modules/lineage/infrastructure/persistence"
	"github.com/jacksonlee411/metaregistry/pkg/authz"
	"github.com/jacksonlee411/metaregistry/pkg/compat"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

func newTestHandler(t *testing.T, gate *compat.Context) http.Handler {
	t.Helper()
	e := engine.New(gate, engine.Stores{
		Catalog:    catalogpersistence.NewCatalogMemoryStore(),
		Governance: governancepersistence.NewGovernanceMemoryStore(),
		Lineage:    lineagepersistence.NewLineageMemoryStore(),
	}, engine.Options{})
	a, err := authz.NewEmbeddedAuthorizer(authz.ModeEnforce)
	require.NoError(t, err)
	allowlist, err := routing.LoadAllowlist("")
	require.NoError(t, err)
	tenants, err := ParseTenantsYAML([]byte("version: 1\ntenants:\n  - id: acme\n    name: Acme\n"))
	require.NoError(t, err)

	h, err := NewHandler(HandlerOptions{Engine: e, Tenants: tenants, Authorizer: a, Allowlist: allowlist})
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, method, target, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set(HeaderTenantID, "acme")
	if role != "" {
		req.Header.Set(HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) routing.ErrorEnvelope {
	t.Helper()
	var env routing.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestTenantScope(t *testing.T) {
	h := newTestHandler(t, compat.NewContext("1.0.0", "1.0.0"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/concepts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tenant_missing", decodeEnvelope(t, rec).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/concepts", nil)
	req.Header.Set(HeaderTenantID, "initech")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "tenant_not_found", decodeEnvelope(t, rec).Code)

	// Ops routes need no tenant.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthzForbidsViewerWrites(t *testing.T) {
	h := newTestHandler(t, compat.NewContext("1.0.0", "1.0.0"))

	rec := do(t, h, http.MethodPost, "/api/v1/concepts", "viewer", map[string]any{
		"canonical_key": "revenue", "label": "Revenue", "domain": "FINANCE", "governance_tier": 3,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeEnvelope(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/concepts", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/concepts", "viewer", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConceptAliasRoundTrip(t *testing.T) {
	h := newTestHandler(t, compat.NewContext("1.1.0", "1.0.0"))

	rec := do(t, h, http.MethodPost, "/api/v1/concepts", "steward", map[string]any{
		"canonical_key": "Revenue_Gross", "label": "Gross revenue", "domain": "finance", "governance_tier": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID           string `json:"id"`
		CanonicalKey string `json:"canonical_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "revenue_gross", created.CanonicalKey)

	rec = do(t, h, http.MethodPost, "/api/v1/aliases", "steward", map[string]any{
		"concept_id": created.ID, "alias_value": "GR", "alias_type": "abbreviation",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/aliases/resolve?text=gr", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved struct {
		Matches []struct {
			Confidence int    `json:"confidence"`
			MatchedOn  string `json:"matched_on"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	require.Len(t, resolved.Matches, 1)
	assert.Equal(t, 100, resolved.Matches[0].Confidence)
	assert.Equal(t, "alias", resolved.Matches[0].MatchedOn)

	rec = do(t, h, http.MethodGet, "/api/v1/concepts/detail?key=revenue_gross", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alias_value":"GR"`)

	rec = do(t, h, http.MethodPost, "/api/v1/concepts", "steward", map[string]any{
		"canonical_key": "revenue_gross", "label": "Again", "domain": "FINANCE", "governance_tier": 3,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeEnvelope(t, rec).Code)
}

func TestEngineErrorMapping(t *testing.T) {
	h := newTestHandler(t, compat.NewContext("1.0.0", "1.0.0"))

	rec := do(t, h, http.MethodGet, "/api/v1/concepts?domain=ASTROLOGY", "viewer", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "validation_error", env.Code)
	assert.Equal(t, map[string]any{"field": "domain"}, env.Details)

	rec = do(t, h, http.MethodGet, "/api/v1/concepts?tier=high", "viewer", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeEnvelope(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/lineage/upstream?entity_id=ghost", "viewer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeEnvelope(t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/lineage/edges", strings.NewReader("{"))
	req.Header.Set(HeaderTenantID, "acme")
	req.Header.Set(HeaderRole, "steward")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/naming/convert?identifier=customer_id&from=snake_case&to=camelCase", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result":"customerId"`)
}

func TestBlockedGate(t *testing.T) {
	h := newTestHandler(t, compat.NewContext("1.4.0", "2.0.0"))

	rec := do(t, h, http.MethodGet, "/api/v1/concepts", "viewer", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "version_mismatch", env.Code)
	assert.Equal(t, map[string]any{"caller_version": "1.4.0", "engine_version": "2.0.0"}, env.Details)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestLineageRoutes(t *testing.T) {
	h := newTestHandler(t, compat.NewContext("1.0.0", "1.0.0"))

	for _, id := range []string{"orders", "revenue"} {
		rec := do(t, h, http.MethodPost, "/api/v1/lineage/entities", "steward", map[string]any{"entity_id": id})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodPost, "/api/v1/lineage/edges", "steward", map[string]any{
		"source_id": "orders", "target_id": "revenue", "edge_type": "AGGREGATION",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/lineage/downstream?entity_id=orders&depth=2", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entity_id":"revenue"`)

	// Retiring needs admin.
	rec = do(t, h, http.MethodPost, "/api/v1/lineage/entities/retire", "steward", map[string]any{"entity_id": "orders"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/lineage/entities/retire", "admin", map[string]any{"entity_id": "orders"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/lineage/coverage", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"percent":0`)
}

func TestStatusForCode(t *testing.T) {
	cases := map[string]int{
		metaerr.CodeValidation:      http.StatusUnprocessableEntity,
		metaerr.CodeNotFound:        http.StatusNotFound,
		metaerr.CodeConflict:        http.StatusConflict,
		metaerr.CodeBlockingRule:    http.StatusConflict,
		metaerr.CodeVersionMismatch: http.StatusPreconditionFailed,
		metaerr.CodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusForCode(code), code)
	}
}

// Engine codes reach clients lower-cased; each must be in the error catalog.
func TestEngineCodesInErrorCatalog(t *testing.T) {
	path := filepath.Join("..", "..", "config", "errors", "catalog.yaml")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var catalog struct {
		Errors []struct {
			Code string `yaml:"code"`
		} `yaml:"errors"`
	}
	require.NoError(t, yaml.Unmarshal(b, &catalog))
	known := map[string]bool{}
	for _, e := range catalog.Errors {
		known[e.Code] = true
	}
	for _, code := range []string{
		metaerr.CodeValidation, metaerr.CodeNotFound, metaerr.CodeConflict,
		metaerr.CodeVersionMismatch, metaerr.CodeBlockingRule, metaerr.CodeInternal,
	} {
		assert.True(t, known[strings.ToLower(code)], code)
	}
}
