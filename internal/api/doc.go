// Package api exposes the HTTP interface for the localpulse service: the
// session-gated location routes, the OAuth callback, and the unauthenticated
// health and metrics endpoints.
package api
