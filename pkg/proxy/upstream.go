package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"mercator-hq/floodgate/pkg/proxy/middleware"
	"mercator-hq/floodgate/pkg/proxy/types"
	"mercator-hq/floodgate/pkg/telemetry/logging"
	"mercator-hq/floodgate/pkg/telemetry/tracing"
)

// NewUpstream returns a reverse proxy forwarding admitted requests to
// target.
//
// Outgoing requests carry X-Forwarded-For/Host/Proto, the request ID and
// the W3C trace context. Upstream failures are answered with 502 in the
// gateway's error format; a client that went away is not answered.
func NewUpstream(target string, logger *slog.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL must be http or https, got %q", target)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "proxy.upstream", "upstream", u.Host)

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host

			ctx := pr.In.Context()
			if id := logging.GetRequestID(ctx); id != "" {
				pr.Out.Header.Set(middleware.RequestIDHeader, id)
			}
			tracing.Inject(ctx, pr.Out.Header)
		},
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
				return
			}
			logging.FromContext(r.Context()).Error("Upstream request failed",
				"component", "proxy.upstream",
				"path", r.URL.Path,
				"error", err,
			)
			middleware.WriteError(w, http.StatusBadGateway, types.NewBadGatewayError("upstream request failed"))
		},
	}

	logger.Info("Forwarding admitted requests", "target", u.Redacted())
	return rp, nil
}
