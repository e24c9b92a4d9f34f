// Package proxy provides the handlers admitted requests are dispatched to.
//
// NewUpstream forwards to the configured server.upstream with
// httputil.ReverseProxy, propagating the request ID and trace context.
// When no upstream is configured, EchoHandler answers with a JSON summary
// of the admission instead.
//
// The middleware subpackage holds the admission middleware and the rest of
// the request chain; types holds the JSON bodies the gateway writes.
package proxy
