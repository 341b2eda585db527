// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding and decoding, request parsing and the shared
// middleware chain (request ids, logging, recovery, CORS).
package httputil
