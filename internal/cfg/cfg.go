package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/webguard/internal/log"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type App struct {
	Env               string
	LogJSON           bool
	LogLevel          string
	LogBackend        string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	HTTPPort          int
	AdminPort         int
	MaxBodyBytes      int64
	DrainPeriod       time.Duration

	CSRFSecret         string
	CSRFSecretSSMParam string
	CSRFKMSKeyID       string

	RateLimitBackend string
	RedisURL         string
	RedisPrefix      string
	TrustedHops      int
	TrustedIPHeader  string
	BurstRPS         float64
	BurstSize        int

	CORSOrigins    string
	IdentityHeader string

	PolicyFile     string
	PolicyS3Bucket string
	PolicyS3Key    string

	AuditSink    string
	KafkaBrokers string
	KafkaTopic   string

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.Env, "env", EnvDevelopment, "development|production (selects header profile, cookie Secure flag, error detail)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.LogBackend, "log-backend", log.BackendSlog, "slog|zap")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "request body cap in bytes")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 15*time.Second, "time readiness fails before listeners close on shutdown (0..5m)")

	fs.StringVar(&c.CSRFSecret, "csrf-secret", "", "HMAC secret for CSRF tokens (falls back to NEXTAUTH_SECRET)")
	fs.StringVar(&c.CSRFSecretSSMParam, "csrf-secret-ssm-param", "", "ssm SecureString parameter holding the CSRF secret")
	fs.StringVar(&c.CSRFKMSKeyID, "csrf-kms-key-id", "", "KMS HMAC key id/ARN; when set tokens are signed by KMS")

	fs.StringVar(&c.RateLimitBackend, "ratelimit-backend", "memory", "memory|redis")
	fs.StringVar(&c.RedisURL, "redis-url", "redis://localhost:6379/0", "redis url for the redis rate-limit backend")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "webguard:", "key prefix for redis rate-limit counters")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted proxies appending to X-Forwarded-For (0..10)")
	fs.StringVar(&c.TrustedIPHeader, "trusted-ip-header", "", "single-value client ip header set by the edge (X-Real-IP, CF-Connecting-IP)")
	fs.Float64Var(&c.BurstRPS, "burst-rps", 20, "per-ip token bucket refill rate at the edge")
	fs.IntVar(&c.BurstSize, "burst-size", 40, "per-ip token bucket size at the edge")

	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma separated origins allowed to call /api")
	fs.StringVar(&c.IdentityHeader, "identity-header", "X-Auth-Request-User", "header carrying the authenticated principal from the auth proxy")

	fs.StringVar(&c.PolicyFile, "policy-file", "", "path to a YAML security policy document")
	fs.StringVar(&c.PolicyS3Bucket, "policy-s3-bucket", "", "s3 bucket holding the YAML security policy")
	fs.StringVar(&c.PolicyS3Key, "policy-s3-key", "", "s3 key of the YAML security policy")

	fs.StringVar(&c.AuditSink, "audit-sink", "log", "log|kafka")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma separated kafka brokers for the audit sink")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "webguard.security-events", "kafka topic for security events")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", false, "Disable TLS on the OTLP gRPC connection")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment. Variables already set are left alone and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// IsProduction reports whether the production header profile and Secure cookies apply.
func (c App) IsProduction() bool { return c.Env == EnvProduction }

// List splits a comma separated flag value, dropping blanks.
func List(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("invalid ENV %q (must be development|production)", c.Env))
	}

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be positive)", c.MaxBodyBytes))
	}
	if c.DrainPeriod < 0 || c.DrainPeriod > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid DRAIN_PERIOD %s (must be 0..5m)", c.DrainPeriod))
	}

	// Logging
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.LogBackend != log.BackendSlog && c.LogBackend != log.BackendZap {
		errs = append(errs, fmt.Errorf("invalid LOG_BACKEND %q (must be slog|zap)", c.LogBackend))
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// CSRF secret sources are mutually exclusive
	sources := 0
	for _, s := range []string{c.CSRFSecret, c.CSRFSecretSSMParam, c.CSRFKMSKeyID} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, fmt.Errorf("set only one of CSRF_SECRET, CSRF_SECRET_SSM_PARAM, CSRF_KMS_KEY_ID"))
	}
	if c.CSRFSecret != "" && len(c.CSRFSecret) < 16 {
		errs = append(errs, fmt.Errorf("CSRF_SECRET must be at least 16 bytes"))
	}

	// Rate limiting
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Errorf("REDIS_URL must be redis:// or rediss:// (got %q)", c.RedisURL))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BACKEND %q (must be memory|redis)", c.RateLimitBackend))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..10)", c.TrustedHops))
	}
	if c.BurstRPS <= 0 || c.BurstSize < 1 {
		errs = append(errs, fmt.Errorf("BURST_RPS and BURST_SIZE must be positive (got %.2f/%d)", c.BurstRPS, c.BurstSize))
	}

	// Policy
	if (c.PolicyS3Bucket == "") != (c.PolicyS3Key == "") {
		errs = append(errs, fmt.Errorf("POLICY_S3_BUCKET and POLICY_S3_KEY must be set together"))
	}
	if c.PolicyFile != "" && c.PolicyS3Bucket != "" {
		errs = append(errs, fmt.Errorf("set only one of POLICY_FILE, POLICY_S3_BUCKET"))
	}

	// Audit
	switch c.AuditSink {
	case "log":
	case "kafka":
		if len(List(c.KafkaBrokers)) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS required when AUDIT_SINK=kafka"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, fmt.Errorf("KAFKA_TOPIC required when AUDIT_SINK=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid AUDIT_SINK %q (must be log|kafka)", c.AuditSink))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	return errors.Join(errs...)
}
