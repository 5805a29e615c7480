package policy

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/webguard/internal/cryptoutil"
	"github.com/keithlinneman/webguard/internal/ratelimit"
)

const sampleDoc = `
version: "2026-10-01"
profile: production
tiers:
  auth:
    max: 3
    message: "slow down"
  api:
    window: 30s
csrf:
  exempt_prefixes: ["/api/auth/", "/api/webhooks/"]
burst:
  rate_per_second: 5
headers:
  frame_options: SAMEORIGIN
  hsts:
    enabled: true
    max_age_seconds: 600
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sampleDoc), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.PolicyVersion() != "2026-10-01" || p.Source() != "test" {
		t.Fatalf("version=%q source=%q", p.PolicyVersion(), p.Source())
	}
	if p.PolicyHash() != cryptoutil.SHA256Hex([]byte(sampleDoc)) {
		t.Fatal("hash is not the sha256 of the document")
	}
	if p.LoadedAt().IsZero() {
		t.Fatal("loadedAt not set")
	}
}

func TestTier(t *testing.T) {
	p, err := Parse([]byte(sampleDoc), "test")
	if err != nil {
		t.Fatal(err)
	}

	auth := p.Tier(ratelimit.Auth)
	if auth.Max != 3 || auth.Message != "slow down" || auth.Window != 15*time.Minute {
		t.Fatalf("auth = %+v", auth)
	}
	api := p.Tier(ratelimit.API)
	if api.Window != 30*time.Second || api.Max != 60 || api.Message != ratelimit.API.Message {
		t.Fatalf("api = %+v", api)
	}
	if got := p.Tier(ratelimit.Upload); got.Max != ratelimit.Upload.Max || got.Window != ratelimit.Upload.Window {
		t.Fatalf("upload changed: %+v", got)
	}

	tiers := p.Tiers()
	var names []string
	for _, c := range tiers {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "api,auth,default,upload" {
		t.Fatalf("tier order = %v", names)
	}
	if tiers[1].Max != 3 {
		t.Fatalf("Tiers did not apply overrides: %+v", tiers[1])
	}
}

func TestHeaders_OverlayOnProfile(t *testing.T) {
	p, err := Parse([]byte(sampleDoc), "test")
	if err != nil {
		t.Fatal(err)
	}
	hp := p.Headers(false)
	if hp.FrameOptions != "SAMEORIGIN" {
		t.Fatalf("frame options = %q", hp.FrameOptions)
	}
	if !hp.HSTS.Enabled || hp.HSTS.MaxAgeSeconds != 600 {
		t.Fatalf("hsts = %+v", hp.HSTS)
	}
	// untouched fields come from the forced production profile
	if hp.CSP.ReportOnly || !hp.HSTS.Preload || hp.ReferrerPolicy != "strict-origin-when-cross-origin" {
		t.Fatalf("profile fields lost: %+v", hp)
	}
}

func TestProduction(t *testing.T) {
	cases := []struct {
		profile string
		env     bool
		want    bool
	}{
		{"", true, true},
		{"", false, false},
		{"production", false, true},
		{"development", true, false},
	}
	for _, tc := range cases {
		p := &Policy{doc: Document{Profile: tc.profile}}
		if got := p.Production(tc.env); got != tc.want {
			t.Errorf("profile=%q env=%v: got %v", tc.profile, tc.env, got)
		}
	}
}

func TestBuiltin(t *testing.T) {
	p := Builtin()
	if p.PolicyVersion() != "builtin" || p.PolicyHash() != "" {
		t.Fatalf("builtin = %q %q", p.PolicyVersion(), p.PolicyHash())
	}
	if got := p.Tier(ratelimit.Default); got.Max != 100 {
		t.Fatalf("default tier changed: %+v", got)
	}
	if hp := p.Headers(true); !hp.HSTS.Enabled {
		t.Fatal("production profile should send HSTS")
	}
	if hp := p.Headers(false); hp.HSTS.Enabled || !hp.CSP.ReportOnly {
		t.Fatal("development profile should be report-only without HSTS")
	}
	def := []string{"/api/auth/"}
	if got := p.ExemptPrefixes(def); len(got) != 1 || got[0] != "/api/auth/" {
		t.Fatalf("exempt = %v", got)
	}
	if rps, size := p.Burst(20, 40); rps != 20 || size != 40 {
		t.Fatalf("burst = %v %v", rps, size)
	}
}

func TestExemptAndBurstOverrides(t *testing.T) {
	p, err := Parse([]byte(sampleDoc), "test")
	if err != nil {
		t.Fatal(err)
	}
	got := p.ExemptPrefixes([]string{"/x/"})
	if len(got) != 2 || got[1] != "/api/webhooks/" {
		t.Fatalf("exempt = %v", got)
	}
	got[0] = "mutated"
	if p.ExemptPrefixes(nil)[0] != "/api/auth/" {
		t.Fatal("ExemptPrefixes returned internal slice")
	}
	if rps, size := p.Burst(20, 40); rps != 5 || size != 40 {
		t.Fatalf("burst = %v %v", rps, size)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"no version":     "profile: production\n",
		"bad profile":    "version: v1\nprofile: staging\n",
		"unknown tier":   "version: v1\ntiers:\n  admin:\n    max: 1\n",
		"negative max":   "version: v1\ntiers:\n  api:\n    max: -1\n",
		"bad duration":   "version: v1\ntiers:\n  api:\n    window: soon\n",
		"unknown key":    "version: v1\nrate_limits: {}\n",
		"relative path":  "version: v1\ncsrf:\n  exempt_prefixes: [\"api/auth\"]\n",
		"bad frame":      "version: v1\nheaders:\n  frame_options: ALLOW-FROM x\n",
		"negative burst": "version: v1\nburst:\n  size: -2\n",
		"not yaml":       "version: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc), "test"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Source() != "file://"+path {
		t.Fatalf("source = %q", p.Source())
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}

	big := filepath.Join(dir, "big.yaml")
	if err := os.WriteFile(big, []byte("version: v1\n#"+strings.Repeat("x", maxDocumentSize)), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(big); err == nil {
		t.Fatal("oversized document should fail")
	}
}

type fakeS3 struct {
	body   string
	err    error
	bucket string
	key    string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestS3Loader(t *testing.T) {
	fs := &fakeS3{body: sampleDoc}
	l := &S3Loader{client: fs}
	p, err := l.Load(context.Background(), "policies", "web/policy.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fs.bucket != "policies" || fs.key != "web/policy.yaml" {
		t.Fatalf("requested %s/%s", fs.bucket, fs.key)
	}
	if p.Source() != "s3://policies/web/policy.yaml" {
		t.Fatalf("source = %q", p.Source())
	}

	l = &S3Loader{client: &fakeS3{err: errors.New("AccessDenied")}}
	if _, err := l.Load(context.Background(), "policies", "k"); err == nil || !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("err = %v", err)
	}
	if _, err := l.Load(context.Background(), "", "k"); err == nil {
		t.Fatal("empty bucket accepted")
	}
}
