// Package sitehttp serves the embedded landing page and the fallback
// responses for unmatched routes.
package sitehttp

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/health"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/webassets"
)

type Options struct {
	// Ready gates the HTML pages; when it fails they answer 503 with the
	// maintenance page.
	Ready health.Probe
}

type Routes struct {
	ready       health.Probe
	index       []byte
	notFound    []byte
	maintenance []byte
	favicon     []byte
	modTime     time.Time
}

// New reads the embedded pages once.
func New(opts Options) (*Routes, error) {
	rt := &Routes{ready: opts.Ready, modTime: time.Now().UTC()}
	for name, dst := range map[string]*[]byte{
		webassets.IndexPage:       &rt.index,
		webassets.NotFoundPage:    &rt.notFound,
		webassets.MaintenancePage: &rt.maintenance,
		"favicon.svg":             &rt.favicon,
	} {
		b, err := webassets.Page(name)
		if err != nil {
			return nil, err
		}
		*dst = b
	}
	return rt, nil
}

// RegisterRoutes should run last so NotFound and MethodNotAllowed become
// the final fallback without shadowing routes registered by other APIs.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Get("/", rt.serveIndex)
	r.Head("/", rt.serveIndex)
	r.Get("/favicon.svg", rt.serveFavicon)
	r.NotFound(rt.serveNotFound)
	r.MethodNotAllowed(rt.serveMethodNotAllowed)
}

func isAPI(p string) bool { return p == "/api" || strings.HasPrefix(p, "/api/") }

func (rt *Routes) serveIndex(w http.ResponseWriter, r *http.Request) {
	if rt.ready != nil {
		if err := rt.ready.Check(r.Context()); err != nil {
			log.FromContext(r.Context()).Debug(r.Context(), "serving maintenance page", "reason", err.Error())
			w.Header().Set("Retry-After", "5")
			writeHTML(w, http.StatusServiceUnavailable, rt.maintenance)
			return
		}
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, webassets.IndexPage, rt.modTime, bytes.NewReader(rt.index))
}

func (rt *Routes) serveFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Type", "image/svg+xml")
	http.ServeContent(w, r, "favicon.svg", rt.modTime, bytes.NewReader(rt.favicon))
}

func (rt *Routes) serveNotFound(w http.ResponseWriter, r *http.Request) {
	if isAPI(r.URL.Path) {
		apierr.Respond(w, apierr.NotFound("Endpoint"))
		return
	}
	writeHTML(w, http.StatusNotFound, rt.notFound)
}

func (rt *Routes) serveMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if isAPI(r.URL.Path) {
		apierr.Respond(w, apierr.New(http.StatusMethodNotAllowed, "Method not allowed", ""))
		return
	}
	writeHTML(w, http.StatusNotFound, rt.notFound)
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
