// Package api assembles the adminboard HTTP server.
//
// # Overview
//
// NewServer mounts every feature package on one gorilla/mux router and wraps
// it in the shared middleware chain. Build constructs the dependencies from
// config.Config: database, blob store, realtime bridge, role registry,
// session resolver, background jobs and the shutdown hooks that release them.
//
// # Routes
//
//	/health, /health/live, /health/ready    probes
//	/metrics                                Prometheus scrape endpoint
//	/storage-proxy                          blob streaming proxy
//	/api/collections/...                    generic document access
//	/api/roles, /api/permissions            role registry administration
//	/api/users, /api/me                     user profiles (authenticated)
//	/api/board/...                          kanban board (manage_board)
//	/api/calendar/...                       calendar events (authenticated)
//	/api/functions/setUserRole              custom claims function
//	/api/audit/events                       audit search (manage_users)
//
// # Middleware
//
// Every request passes request id, logging, panic recovery, CORS, audit and
// session resolution, in that order. Metrics are recorded after routing so
// the route template can be used as a label. Mutating requests under /api
// are rate limited per caller, and /api/functions has its own tighter limit.
package api
