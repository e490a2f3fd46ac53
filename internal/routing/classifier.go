package routing

import (
	"errors"
	"net/http"
	"strings"
)

type RouteClass string

const (
	RouteClassPublicAPI RouteClass = "public_api"
	RouteClassOps       RouteClass = "ops"
)

type Classifier struct {
	entrypoint string
	// routes is keyed by path, then upper-case method.
	routes map[string]map[string]Route
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	c := &Classifier{entrypoint: entrypoint, routes: make(map[string]map[string]Route, len(ep.Routes))}
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" || !strings.HasPrefix(r.Path, "/") || len(r.Methods) == 0 {
			return nil, errors.New("allowlist: invalid route")
		}
		switch RouteClass(r.RouteClass) {
		case RouteClassPublicAPI, RouteClassOps:
		default:
			return nil, errors.New("allowlist: unknown route_class " + r.RouteClass)
		}
		if c.routes[r.Path] == nil {
			c.routes[r.Path] = make(map[string]Route, len(r.Methods))
		}
		for _, m := range r.Methods {
			m = strings.ToUpper(m)
			if _, dup := c.routes[r.Path][m]; dup {
				return nil, errors.New("allowlist: duplicate route " + m + " " + r.Path)
			}
			c.routes[r.Path][m] = r
		}
	}
	return c, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	for _, r := range c.routes[path] {
		return RouteClass(r.RouteClass)
	}
	if hasPrefixSegment(path, "/api") {
		return RouteClassPublicAPI
	}
	return RouteClassOps
}

// Lookup returns the allowlisted route for method and path. HEAD is served by
// the GET entry.
func (c *Classifier) Lookup(method string, path string) (Route, bool) {
	methods := c.routes[path]
	if r, ok := methods[strings.ToUpper(method)]; ok {
		return r, true
	}
	if method == http.MethodHead {
		r, ok := methods[http.MethodGet]
		return r, ok
	}
	return Route{}, false
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
