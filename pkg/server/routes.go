package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"mercator-hq/floodgate/pkg/proxy/middleware"
)

// route is a configured path prefix with its fully wrapped handler.
type route struct {
	prefix  string
	policy  string
	handler http.Handler
}

// buildRoutes wraps the backend once per configured route, longest prefix
// first.
func (s *Server) buildRoutes() ([]route, error) {
	keyFunc := middleware.KeyFromConfig(s.cfg.Key)

	routes := make([]route, 0, len(s.cfg.Routes))
	for _, rc := range s.cfg.Routes {
		if !s.deps.Manager.HasPolicy(rc.Policy) {
			return nil, fmt.Errorf("route %q: unknown policy %q", rc.PathPrefix, rc.Policy)
		}

		h := middleware.Admission(middleware.AdmissionConfig{
			Policy:       rc.Policy,
			Decider:      s.deps.Manager,
			KeyFunc:      keyFunc,
			RejectStatus: s.cfg.Server.RejectStatus,
		})(s.deps.Backend)

		var recorder middleware.RequestRecorder
		var overloads middleware.OverloadRecorder
		if s.deps.Metrics != nil {
			recorder = s.deps.Metrics
			overloads = s.deps.Metrics
		}
		h = middleware.Metrics(recorder, rc.Policy)(h)
		h = middleware.MaxInFlight(s.limiter, overloads)(h)

		routes = append(routes, route{prefix: rc.PathPrefix, policy: rc.Policy, handler: h})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})
	return routes, nil
}

// matchRoute returns the longest route whose prefix matches path on a
// segment boundary: "/api" matches "/api" and "/api/x" but not "/apix".
// routes must be sorted longest prefix first.
func matchRoute(routes []route, path string) (route, bool) {
	for _, rt := range routes {
		if prefixMatches(rt.prefix, path) {
			return rt, true
		}
	}
	return route{}, false
}

func prefixMatches(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
