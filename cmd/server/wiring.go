package main

import (
	"context"
	"crypto/rand"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/webguard/internal/audit"
	"github.com/keithlinneman/webguard/internal/cfg"
	"github.com/keithlinneman/webguard/internal/cryptoutil"
	"github.com/keithlinneman/webguard/internal/csrf"
	"github.com/keithlinneman/webguard/internal/health"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/metrics"
	"github.com/keithlinneman/webguard/internal/policy"
	"github.com/keithlinneman/webguard/internal/ratelimit"
	"github.com/keithlinneman/webguard/internal/secrets"
	"github.com/keithlinneman/webguard/internal/xerrors"
)

// needsAWS reports whether any configured source lives in AWS.
func needsAWS(conf cfg.App) bool {
	return conf.CSRFSecretSSMParam != "" || conf.CSRFKMSKeyID != "" || conf.PolicyS3Bucket != ""
}

// startupInputs are loaded concurrently before anything listens.
type startupInputs struct {
	policy *policy.Policy
	secret []byte
}

// loadInputs fetches the policy document and the CSRF secret in parallel.
// awsCfg is only read when a source needs it.
func loadInputs(ctx context.Context, conf cfg.App, awsCfg *aws.Config) (startupInputs, error) {
	var out startupInputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var (
			p   *policy.Policy
			err error
		)
		switch {
		case conf.PolicyS3Bucket != "":
			p, err = policy.NewS3Loader(s3.NewFromConfig(*awsCfg)).Load(gctx, conf.PolicyS3Bucket, conf.PolicyS3Key)
		case conf.PolicyFile != "":
			p, err = policy.LoadFile(conf.PolicyFile)
		default:
			p = policy.Builtin()
		}
		if err != nil {
			return xerrors.Wrap(err, "load security policy")
		}
		out.policy = p
		return nil
	})

	g.Go(func() error {
		switch {
		case conf.CSRFKMSKeyID != "":
			return nil
		case conf.CSRFSecretSSMParam != "":
			s, err := secrets.NewSSM(ssm.NewFromConfig(*awsCfg)).Get(gctx, conf.CSRFSecretSSMParam)
			if err != nil {
				return xerrors.Wrap(err, "fetch csrf secret")
			}
			out.secret = []byte(s)
		case conf.CSRFSecret != "":
			out.secret = []byte(conf.CSRFSecret)
		default:
			out.secret = []byte(os.Getenv("NEXTAUTH_SECRET"))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return startupInputs{}, err
	}
	return out, nil
}

func loadAWSConfig(ctx context.Context, conf cfg.App) (*aws.Config, error) {
	if !needsAWS(conf) {
		return nil, nil
	}
	c, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}
	return &c, nil
}

// buildSigner picks KMS, then a configured secret, then (development only)
// a random per-process secret. Tokens minted by an ephemeral secret do not
// survive a restart.
func buildSigner(ctx context.Context, L log.Logger, conf cfg.App, awsCfg *aws.Config, secret []byte) (csrf.Signer, error) {
	if conf.CSRFKMSKeyID != "" {
		L.Info(ctx, "csrf tokens signed by kms", "kms_key_id", conf.CSRFKMSKeyID)
		return cryptoutil.NewKMSMAC(kms.NewFromConfig(*awsCfg), conf.CSRFKMSKeyID), nil
	}
	if len(secret) > 0 {
		return cryptoutil.NewHMAC(secret)
	}
	if conf.IsProduction() {
		return nil, xerrors.New("no csrf secret configured (set CSRF_SECRET, CSRF_SECRET_SSM_PARAM or CSRF_KMS_KEY_ID)")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, xerrors.Wrap(err, "generate ephemeral csrf secret")
	}
	L.Warn(ctx, "no csrf secret configured, using an ephemeral secret")
	return cryptoutil.NewHMAC(buf)
}

// buildStore returns the shared counter store and a readiness probe for it.
func buildStore(ctx context.Context, L log.Logger, conf cfg.App) (ratelimit.Store, health.Probe, error) {
	if conf.RateLimitBackend == "redis" {
		client, err := ratelimit.DialRedis(ctx, conf.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store := ratelimit.NewRedisStore(client, conf.RedisPrefix)
		L.Info(ctx, "rate limit counters in redis", "redis_prefix", conf.RedisPrefix)
		return store, health.Named("redis", health.Timeout(time.Second, health.Ping(store))), nil
	}
	store := ratelimit.NewMemoryStore()
	go store.RunJanitor(ctx, time.Minute)
	return store, health.Fixed(true, ""), nil
}

func buildAudit(L log.Logger, conf cfg.App, m *metrics.ServerMetrics) (audit.Sink, error) {
	if conf.AuditSink != "kafka" {
		return audit.LogSink{L: L.With("component", "audit")}, nil
	}
	return audit.NewKafkaSink(audit.KafkaOptions{
		Brokers: cfg.List(conf.KafkaBrokers),
		Topic:   conf.KafkaTopic,
		Logger:  L,
		OnDropped: func(n int) {
			for i := 0; i < n; i++ {
				m.IncAuditDropped("kafka")
			}
		},
	})
}
