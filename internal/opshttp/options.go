package opshttp

import (
	"net/http"

	"github.com/keithlinneman/webguard/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// Policy, when set, is served at /policy so operators can see what the
	// running guard enforces.
	Policy       http.Handler
	UseRecoverMW bool
	OnPanic      func()
}
