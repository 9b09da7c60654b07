// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package distribution serves the artifact, its digest and the bootstrap
// loader over HTTP, and mounts the push channel.
package distribution

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/holomush/extreload/internal/artifact"
	"github.com/holomush/extreload/pkg/extension"
)

// Deps are the collaborators the routes read from.
type Deps struct {
	Artifact    *artifact.Artifact
	Bootstrap   *Bootstrap
	PushChannel http.Handler
	Logger      *slog.Logger
}

type handlers struct {
	artifact  *artifact.Artifact
	bootstrap *Bootstrap
	logger    *slog.Logger
}

// NewRouter builds the read-only HTTP surface. Nothing here mutates state.
func NewRouter(d Deps) chi.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{artifact: d.Artifact, bootstrap: d.Bootstrap, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(allowAnyOrigin)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
	})
	r.Get("/version", h.version)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/code", h.code)
		r.Get("/code.js", h.code)
		r.Get("/bootstrap", h.serveBootstrap)
		r.Get("/extension.js", h.serveBootstrap)
	})

	if d.PushChannel != nil {
		r.Handle(extension.PushPath, d.PushChannel)
		// Older loaders dial the server root.
		r.With(requireUpgrade).Handle("/", d.PushChannel)
	}
	return r
}

func (h *handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, extension.VersionResponse{Digest: h.artifact.Digest()})
}

// code streams the current artifact bytes. The cacheBust query parameter is
// accepted and ignored; it only defeats intermediaries.
func (h *handlers) code(w http.ResponseWriter, r *http.Request) {
	data, err := h.artifact.Read()
	if err != nil {
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == artifact.CodeNotFound {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to read artifact", "error", err, "request_id", middleware.GetReqID(r.Context()))
		http.Error(w, "failed to read artifact", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect mid-body
	w.Write(data)
}

func (h *handlers) serveBootstrap(w http.ResponseWriter, r *http.Request) {
	script, err := h.bootstrap.Render(requestBaseURL(r))
	if err != nil {
		h.logger.Error("failed to render bootstrap", "error", err, "request_id", middleware.GetReqID(r.Context()))
		http.Error(w, "failed to render bootstrap", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect mid-body
	w.Write([]byte(script))
}

// requestBaseURL is the origin the browser used to reach us, so the loader
// calls back through the same host and port.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireUpgrade(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "" {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect mid-body
	json.NewEncoder(w).Encode(v)
}
