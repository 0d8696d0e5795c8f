// Package server hosts the Fiber HTTP service that fronts the price cache.
// NewApp wires recover, request-id and access-log middlewares plus a JSON
// error handler; the routes subpackage attaches the price lookup endpoints
// and the /-/cache diagnostics surface. NewUpstreamClient builds the shared
// http.Client used for price upstream fetches. Keep exports narrow and accept
// explicit dependencies so tests can assemble an app without config files.
package server
