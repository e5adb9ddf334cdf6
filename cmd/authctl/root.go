package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/credential"
	"github.com/MrEthical07/authclient/gateway"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// rootConfig holds the flags shared by every subcommand.
type rootConfig struct {
	stdout io.Writer
	stderr io.Writer

	baseURL     string
	namespace   string
	stateDir    string
	redisAddr   string
	redisPass   string
	timeout     time.Duration
	entryPoint  string
	persistUser bool
	discardExp  bool
	logLevel    string
	jsonLogs    bool
}

func newRootConfig(stdout, stderr io.Writer) *rootConfig {
	return &rootConfig{stdout: stdout, stderr: stderr}
}

func (r *rootConfig) registerFlags(fs *flag.FlagSet) {
	defaults := authclient.DefaultConfig()
	fs.String("config", "", "YAML config file (keys are flag names)")
	fs.StringVar(&r.baseURL, "base-url", "http://localhost:8000", "backend base URL")
	fs.StringVar(&r.namespace, "namespace", defaults.Storage.Namespace, "credential storage namespace")
	fs.StringVar(&r.stateDir, "state-dir", defaultStateDir(), "directory holding the persisted credential")
	fs.StringVar(&r.redisAddr, "redis-addr", "", "store the credential in Redis at this address instead of state-dir")
	fs.StringVar(&r.redisPass, "redis-password", "", "Redis password")
	fs.DurationVar(&r.timeout, "timeout", defaults.Gateway.Timeout, "per-request timeout")
	fs.StringVar(&r.entryPoint, "entry-point", defaults.Gateway.EntryPoint, "sign-in route reported on forced logout")
	fs.BoolVar(&r.persistUser, "persist-user", false, "also persist the profile next to the credential")
	fs.BoolVar(&r.discardExp, "discard-expired", defaults.Session.DiscardExpiredCredentials, "drop an expired persisted JWT without asking the backend")
	fs.StringVar(&r.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&r.jsonLogs, "json-logs", false, "write JSON log lines instead of console output")
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "authctl")
	}
	return ".authctl"
}

func (r *rootConfig) logger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(r.logLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log-level: %w", err)
	}
	var out io.Writer = r.stderr
	if !r.jsonLogs {
		out = zerolog.ConsoleWriter{Out: r.stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func (r *rootConfig) repository() (credential.Repository, func(), error) {
	if r.redisAddr == "" {
		repo, err := credential.NewFile(r.stateDir, r.namespace)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{r.redisAddr},
		Password: r.redisPass,
	})
	repo, err := credential.NewRedis(rdb, r.namespace)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return repo, func() { _ = rdb.Close() }, nil
}

// session is one process-lifetime client, already initialized.
type session struct {
	client *authclient.Client
	logger zerolog.Logger
	close  func()
}

// open builds the client and restores the persisted session. A restore failure is
// logged and leaves the session signed out.
func (r *rootConfig) open(ctx context.Context) (*session, error) {
	logger, err := r.logger()
	if err != nil {
		return nil, err
	}

	cfg := authclient.DefaultConfig()
	cfg.Gateway.BaseURL = r.baseURL
	cfg.Gateway.Timeout = r.timeout
	cfg.Gateway.EntryPoint = r.entryPoint
	cfg.Gateway.UserAgent = "authctl"
	cfg.Storage.Namespace = r.namespace
	cfg.Storage.PersistUser = r.persistUser
	cfg.Session.DiscardExpiredCredentials = r.discardExp
	cfg.Metrics.Enabled = false

	for _, w := range cfg.Lint().BySeverity(authclient.LintWarn) {
		logger.Warn().Str("code", w.Code).Str("severity", w.Severity.String()).Msg(w.Message)
	}

	repo, closeRepo, err := r.repository()
	if err != nil {
		return nil, err
	}

	client, err := authclient.New().
		WithConfig(cfg).
		WithRepository(repo).
		WithLogger(logger).
		WithNotifier(gateway.NewLogNotifier(logger)).
		WithForcedLogoutHandler(func(_ context.Context, ev gateway.Unauthenticated) {
			logger.Warn().
				Str("entry_point", ev.EntryPoint).
				Bool("cleared", ev.Cleared).
				Msg("session ended; run `authctl login` to sign in again")
		}).
		Build()
	if err != nil {
		closeRepo()
		return nil, err
	}

	if err := client.Initialize(ctx); err != nil {
		logger.Debug().Err(err).Msg("no session restored")
	}

	return &session{
		client: client,
		logger: logger,
		close: func() {
			client.Close()
			closeRepo()
		},
	}, nil
}
