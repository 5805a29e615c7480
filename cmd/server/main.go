package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/authn"
	"github.com/keithlinneman/webguard/internal/cfg"
	"github.com/keithlinneman/webguard/internal/csrf"
	"github.com/keithlinneman/webguard/internal/guard"
	"github.com/keithlinneman/webguard/internal/health"
	"github.com/keithlinneman/webguard/internal/httpmw"
	"github.com/keithlinneman/webguard/internal/httpserver"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/metrics"
	"github.com/keithlinneman/webguard/internal/opshttp"
	"github.com/keithlinneman/webguard/internal/otelx"
	"github.com/keithlinneman/webguard/internal/policyhttp"
	"github.com/keithlinneman/webguard/internal/prof"
	"github.com/keithlinneman/webguard/internal/ratelimit"
	"github.com/keithlinneman/webguard/internal/sitehttp"
	"github.com/keithlinneman/webguard/internal/usersapi"
	v "github.com/keithlinneman/webguard/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// .env is for local runs; real environments set variables directly
	if err := cfg.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "dotenv error:", err)
		os.Exit(1)
	}
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion,
			vi.Modified != nil && *vi.Modified,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "WEBGUARD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	production := conf.IsProduction()

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Environment:       conf.Env,
		Backend:           conf.LogBackend,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// flushes buffered zap output on exit
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"go_version", vi.GoVersion,
		"env", conf.Env,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"ratelimit_backend", conf.RateLimitBackend,
		"audit_sink", conf.AuditSink,
		"trusted_hops", conf.TrustedHops,
		"policy_file", conf.PolicyFile,
		"policy_s3_bucket", conf.PolicyS3Bucket,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"env":       conf.Env,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	awsCfg, err := loadAWSConfig(ctx, conf)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}

	inputs, err := loadInputs(ctx, conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to load startup inputs")
		os.Exit(1)
	}
	pol := inputs.policy
	m.SetPolicy(pol.PolicyVersion(), pol.PolicyHash(), pol.Source(), pol.LoadedAt())
	L.Info(ctx, "security policy loaded",
		"policy_version", pol.PolicyVersion(),
		"policy_hash", pol.PolicyHash(),
		"policy_source", pol.Source(),
	)

	signer, err := buildSigner(ctx, L, conf, awsCfg, inputs.secret)
	if err != nil {
		L.Error(ctx, err, "failed to set up csrf signing")
		os.Exit(1)
	}

	store, storeReady, err := buildStore(ctx, L, conf)
	if err != nil {
		L.Error(ctx, err, "failed to set up rate limit store")
		os.Exit(1)
	}

	sink, err := buildAudit(L, conf, m)
	if err != nil {
		L.Error(ctx, err, "failed to set up audit sink")
		os.Exit(1)
	}

	// edge token bucket, per ip, ahead of everything but request id and recovery
	burstRPS, burstSize := pol.Burst(conf.BurstRPS, conf.BurstSize)
	burst := ratelimit.NewBurstGuard(ctx,
		ratelimit.WithRate(burstRPS, burstSize),
		ratelimit.WithOnBurstDenied(func(string) { m.IncBurstDenied() }),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "burst limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncBurstCapacity()
			L.Warn(ctx, "burst guard capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	ccfg := csrf.DefaultConfig()
	ccfg.Secure = pol.Production(production)
	pipeline, err := guard.New(guard.Options{
		Store:    store,
		Policy:   pol,
		CSRF:     ccfg,
		Signer:   signer,
		Recorder: m,
		Audit:    sink,
	})
	if err != nil {
		L.Error(ctx, err, "failed to build guard pipeline")
		os.Exit(1)
	}

	users := usersapi.NewAPI(usersapi.Options{
		Logger:    L,
		Responder: apierr.Responder{Development: !production},
		Store:     store,
		LimiterOpts: []ratelimit.Option{
			ratelimit.WithOnDenied(func(r *http.Request, d ratelimit.Decision) { m.IncRateLimited(d.Name) }),
			ratelimit.WithOnStoreError(func(error) { m.IncRateLimitStoreError("users") }),
		},
		Authenticator: authn.ProxyHeader{Header: conf.IdentityHeader},
		CSRFToken:     pipeline.CSRF().Handler(),
		Recorder:      m,
	})

	policyAPI := policyhttp.NewAPI(pol, policyhttp.Options{
		Logger:         L,
		Production:     production,
		DefaultExempt:  ccfg.ExemptPrefixes,
		BurstRPS:       conf.BurstRPS,
		BurstSize:      conf.BurstSize,
		Build:          vi,
		CSRFCookieName: ccfg.CookieName,
	})

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), storeReady)

	site, err := sitehttp.New(sitehttp.Options{Ready: readiness})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:  L,
		Port:    conf.HTTPPort,
		Headers: pol.Headers(production),
		Policy:  pol,
		ClientIPOpts: httpmw.ClientIPOptions{
			TrustedHops:   conf.TrustedHops,
			TrustedHeader: conf.TrustedIPHeader,
		},
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		BurstMW:      burst.Middleware,
		GuardMW:      pipeline.Middleware,
		MetricsMW:    m.Middleware,
		CORSOrigins:  cfg.List(conf.CORSOrigins),
		MaxBodyBytes: conf.MaxBodyBytes,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    []httpserver.RouteRegistrar{users, policyAPI},
		Site:         site,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener serves metrics, probes, pprof and the full policy view
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Policy:       policyAPI.Handler(),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed", "drain_period", conf.DrainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := sink.Close(); err != nil {
		L.Error(bg, err, "audit sink close")
	}
	if err := store.Close(); err != nil {
		L.Error(bg, err, "rate limit store close")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
	_ = lg.Sync()
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
