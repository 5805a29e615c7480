// Package policyhttp reports the security policy the running process
// enforces: a short public summary on the API router and the full
// resolved policy on the admin listener.
package policyhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/policy"
	"github.com/keithlinneman/webguard/internal/version"
)

type Options struct {
	Logger         log.Logger
	Production     bool
	DefaultExempt  []string
	BurstRPS       float64
	BurstSize      int
	Build          version.Info
	CSRFCookieName string
}

type API struct {
	p      *policy.Policy
	opts   Options
	logger log.Logger
}

func NewAPI(p *policy.Policy, opts Options) *API {
	if p == nil {
		p = policy.Builtin()
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	return &API{p: p, opts: opts, logger: L}
}

// RegisterRoutes mounts the public summary.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/security/policy", api.HandleSummary)
}

// Handler serves the full document view; mount it on the admin listener.
func (api *API) Handler() http.Handler { return http.HandlerFunc(api.HandleFull) }

// SummaryResponse carries no limit values so clients cannot tune request
// rates against it.
type SummaryResponse struct {
	Version    string    `json:"version"`
	Hash       string    `json:"hash,omitempty"`
	Profile    string    `json:"profile"`
	LoadedAt   time.Time `json:"loaded_at"`
	ServerTime time.Time `json:"server_time"`
}

type TierView struct {
	Name          string  `json:"name"`
	WindowSeconds float64 `json:"window_seconds"`
	Max           int64   `json:"max"`
	Message       string  `json:"message"`
}

type FullResponse struct {
	SummaryResponse
	Source         string       `json:"source"`
	Tiers          []TierView   `json:"tiers"`
	ExemptPrefixes []string     `json:"csrf_exempt_prefixes"`
	CSRFCookie     string       `json:"csrf_cookie,omitempty"`
	BurstRPS       float64      `json:"burst_rate_per_second"`
	BurstSize      int          `json:"burst_size"`
	Build          version.Info `json:"build"`
}

func (api *API) summary() SummaryResponse {
	profile := "development"
	if api.p.Production(api.opts.Production) {
		profile = "production"
	}
	return SummaryResponse{
		Version:    api.p.PolicyVersion(),
		Hash:       api.p.PolicyHash(),
		Profile:    profile,
		LoadedAt:   api.p.LoadedAt().Truncate(time.Second),
		ServerTime: time.Now().UTC().Truncate(time.Second),
	}
}

func (api *API) HandleSummary(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, api.summary())
}

func (api *API) HandleFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := FullResponse{
		SummaryResponse: api.summary(),
		Source:          api.p.Source(),
		ExemptPrefixes:  api.p.ExemptPrefixes(api.opts.DefaultExempt),
		CSRFCookie:      api.opts.CSRFCookieName,
		Build:           api.opts.Build,
	}
	resp.BurstRPS, resp.BurstSize = api.p.Burst(api.opts.BurstRPS, api.opts.BurstSize)
	for _, c := range api.p.Tiers() {
		resp.Tiers = append(resp.Tiers, TierView{
			Name:          c.Name,
			WindowSeconds: c.Window.Seconds(),
			Max:           c.Max,
			Message:       c.Message,
		})
	}

	api.logger.Debug(ctx, "served security policy", "version", resp.Version, "source", resp.Source)
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
