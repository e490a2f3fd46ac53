package routing

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

const (
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternal         = "internal_error"
)

type Router struct {
	classifier *Classifier
	logger     *zap.Logger
	routes     map[string]map[string]http.Handler
}

func NewRouter(classifier *Classifier, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		classifier: classifier,
		logger:     logger,
		routes:     make(map[string]map[string]http.Handler),
	}
}

// Handle registers h for method and path. Registering a route the allowlist
// does not name is a programming error.
func (r *Router) Handle(method string, path string, h http.Handler) {
	if _, ok := r.classifier.Lookup(method, path); !ok {
		panic(fmt.Sprintf("routing: %s %s is not allowlisted for %s", method, path, r.classifier.entrypoint))
	}
	if r.routes[path] == nil {
		r.routes[path] = make(map[string]http.Handler)
	}

	r.routes[path][method] = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("handler panic",
					zap.String("method", req.Method),
					zap.String("path", req.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				WriteError(w, req, http.StatusInternalServerError, CodeInternal, "internal error")
			}
		}()
		h.ServeHTTP(w, req)
	})
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		WriteError(w, req, http.StatusNotFound, CodeNotFound, "not found")
		return
	}
	h, ok := methods[req.Method]
	if !ok {
		WriteError(w, req, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}
	h.ServeHTTP(w, req)
}
