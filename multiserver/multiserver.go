// Package multiserver mounts any number of HTTP-wrapped devices on one router
package multiserver

import (
	"net/http"
	"time"

	"github.com/fairwaves/xtrx/generichttp"
	"github.com/fairwaves/xtrx/server"
	"github.com/fairwaves/xtrx/server/middleware/locker"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// Node is one device to serve
type Node struct {
	// Endpoint is where the routes go, "sdr/0" produces /sdr/0/rx/frequency, etc
	Endpoint string

	HTTPer generichttp.HTTPer

	// Middleware runs ahead of the node's lock
	Middleware []func(http.Handler) http.Handler
}

// Logger is a chi middleware logging each request through log
func Logger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start))
		})
	}
}

// BuildMux gives every node a sub-router with a lock under its endpoint.
// The root serves GET /endpoints, a map of each endpoint to its routes.
func BuildMux(nodes []Node, log *zap.SugaredLogger) chi.Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	root.Use(Logger(log))
	supergraph := map[string][]string{}

	for _, node := range nodes {
		// prepare the URL, "sdr/0/" => "/sdr/0"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		lock := locker.New()
		locker.Inject(node.HTTPer, lock)

		// add the endpoints to the graph
		supergraph[hndlS] = node.HTTPer.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(node.Middleware...)
		r.Use(lock.Check)
		node.HTTPer.RT().Bind(r)
		root.Mount(hndlS, r)
		log.Infow("mounted node", "endpoint", hndlS, "routes", len(supergraph[hndlS]))
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		server.RespondJSON(w, supergraph)
	})
	return root
}
