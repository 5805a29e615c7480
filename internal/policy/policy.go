// Package policy loads the YAML security policy document that overrides
// rate-limit tiers, the security header profile, CSRF exemptions and the
// edge burst guard.
//
// The document is optional. Without one the built-in presets and the
// environment's header profile apply.
package policy

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/webguard/internal/cryptoutil"
	"github.com/keithlinneman/webguard/internal/httpmw"
	"github.com/keithlinneman/webguard/internal/ratelimit"
	"github.com/keithlinneman/webguard/internal/xerrors"
)

// Tier overrides one preset. Zero fields keep the preset value.
type Tier struct {
	Window  time.Duration `yaml:"window"`
	Max     int64         `yaml:"max"`
	Message string        `yaml:"message"`
}

type CSRF struct {
	ExemptPrefixes []string `yaml:"exempt_prefixes"`
}

type Burst struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Size          int     `yaml:"size"`
}

// Document is the on-disk shape.
type Document struct {
	Version string `yaml:"version"`
	// Profile forces the header profile; empty follows the environment
	Profile string          `yaml:"profile"`
	Tiers   map[string]Tier `yaml:"tiers"`
	CSRF    CSRF            `yaml:"csrf"`
	Burst   Burst           `yaml:"burst"`
	// Headers is decoded over the selected profile, so only the fields
	// present in the document change.
	Headers yaml.Node `yaml:"headers"`
}

// Policy is a parsed and validated document plus where it came from.
type Policy struct {
	doc      Document
	hash     string
	source   string
	loadedAt time.Time
}

var presets = map[string]ratelimit.Config{
	ratelimit.Default.Name: ratelimit.Default,
	ratelimit.Auth.Name:    ratelimit.Auth,
	ratelimit.API.Name:     ratelimit.API,
	ratelimit.Upload.Name:  ratelimit.Upload,
}

// Builtin is the policy in force when no document is configured.
func Builtin() *Policy {
	return &Policy{doc: Document{Version: "builtin"}, source: "builtin", loadedAt: time.Now().UTC()}
}

// Parse decodes and validates a document. Unknown keys are rejected.
func Parse(data []byte, source string) (*Policy, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, xerrors.Wrapf(err, "parse policy %s", source)
	}
	doc.Profile = strings.ToLower(strings.TrimSpace(doc.Profile))
	if err := doc.validate(); err != nil {
		return nil, xerrors.Wrapf(err, "invalid policy %s", source)
	}
	return &Policy{
		doc:      doc,
		hash:     cryptoutil.SHA256Hex(data),
		source:   source,
		loadedAt: time.Now().UTC(),
	}, nil
}

func (d *Document) validate() error {
	if strings.TrimSpace(d.Version) == "" {
		return xerrors.New("version is required")
	}
	switch d.Profile {
	case "", "development", "production":
	default:
		return xerrors.Newf("profile %q: want development or production", d.Profile)
	}
	for name, t := range d.Tiers {
		if _, ok := presets[name]; !ok {
			return xerrors.Newf("tiers.%s: unknown tier", name)
		}
		if t.Window < 0 {
			return xerrors.Newf("tiers.%s.window must not be negative", name)
		}
		if t.Max < 0 {
			return xerrors.Newf("tiers.%s.max must not be negative", name)
		}
	}
	for _, p := range d.CSRF.ExemptPrefixes {
		if !strings.HasPrefix(p, "/") {
			return xerrors.Newf("csrf.exempt_prefixes: %q must start with /", p)
		}
	}
	if d.Burst.RatePerSecond < 0 || d.Burst.Size < 0 {
		return xerrors.New("burst values must not be negative")
	}
	if d.Headers.Kind != 0 {
		var hp httpmw.HeaderPolicy
		if err := d.Headers.Decode(&hp); err != nil {
			return xerrors.Wrap(err, "headers")
		}
		switch strings.ToUpper(hp.FrameOptions) {
		case "", "DENY", "SAMEORIGIN":
		default:
			return xerrors.Newf("headers.frame_options %q: want DENY or SAMEORIGIN", hp.FrameOptions)
		}
		if hp.HSTS.MaxAgeSeconds < 0 {
			return xerrors.New("headers.hsts.max_age_seconds must not be negative")
		}
	}
	return nil
}

func (p *Policy) PolicyVersion() string { return p.doc.Version }
func (p *Policy) PolicyHash() string    { return p.hash }
func (p *Policy) Source() string        { return p.source }
func (p *Policy) LoadedAt() time.Time   { return p.loadedAt }

// Tier returns base with the document's overrides for base.Name applied.
func (p *Policy) Tier(base ratelimit.Config) ratelimit.Config {
	t, ok := p.doc.Tiers[base.Name]
	if !ok {
		return base
	}
	if t.Window > 0 {
		base.Window = t.Window
	}
	if t.Max > 0 {
		base.Max = t.Max
	}
	if t.Message != "" {
		base.Message = t.Message
	}
	return base
}

// Tiers returns every preset with overrides applied, ordered by name.
func (p *Policy) Tiers() []ratelimit.Config {
	out := make([]ratelimit.Config, 0, len(presets))
	for _, base := range presets {
		out = append(out, p.Tier(base))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Production reports whether the production header profile applies.
func (p *Policy) Production(envProduction bool) bool {
	switch p.doc.Profile {
	case "production":
		return true
	case "development":
		return false
	}
	return envProduction
}

// Headers returns the selected profile with document overrides decoded over it.
func (p *Policy) Headers(envProduction bool) httpmw.HeaderPolicy {
	hp := httpmw.HeaderProfile(p.Production(envProduction))
	if p.doc.Headers.Kind != 0 {
		// validated in Parse
		_ = p.doc.Headers.Decode(&hp)
	}
	return hp
}

// ExemptPrefixes returns the document's CSRF exemptions, or def when unset.
func (p *Policy) ExemptPrefixes(def []string) []string {
	if p.doc.CSRF.ExemptPrefixes == nil {
		return def
	}
	return append([]string(nil), p.doc.CSRF.ExemptPrefixes...)
}

// Burst returns the document's edge burst settings, falling back to the
// given values for unset fields.
func (p *Policy) Burst(rps float64, size int) (float64, int) {
	if p.doc.Burst.RatePerSecond > 0 {
		rps = p.doc.Burst.RatePerSecond
	}
	if p.doc.Burst.Size > 0 {
		size = p.doc.Burst.Size
	}
	return rps, size
}

var _ httpmw.PolicyInfo = (*Policy)(nil)
