package httpx

import "net/http"

// Route declares one endpoint and the capabilities it requires. Routers consult
// the table in a single place instead of each handler checking auth itself.
type Route struct {
	Method      string
	Pattern     string
	Public      bool
	Permissions []string
	Handler     http.HandlerFunc
}

// RouteProvider exposes the routes a handler serves.
type RouteProvider interface {
	Routes() []Route
}
