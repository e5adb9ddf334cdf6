package authclient

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authclient/credential"
	"github.com/MrEthical07/authclient/gateway"
	"github.com/MrEthical07/authclient/internal/events"
	"github.com/rs/zerolog"
)

// Builder assembles a Client. A Builder can be used once.
type Builder struct {
	config     Config
	repo       credential.Repository
	httpClient *http.Client
	notifier   gateway.Notifier
	eventSink  EventSink
	logger     zerolog.Logger
	handlers   []gateway.UnauthenticatedFunc
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Gateway.BaseURL on the current configuration.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.Gateway.BaseURL = baseURL
	return b
}

// WithRepository sets the durable credential store shared by the Client and its
// Gateway. It is required.
func (b *Builder) WithRepository(repo credential.Repository) *Builder {
	b.repo = repo
	return b
}

func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithNotifier sets where user-facing messages go. Defaults to discarding them.
func (b *Builder) WithNotifier(n gateway.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithEventSink sets the session event consumer. Events are only emitted when
// Config.Events.Enabled is true.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = l
	return b
}

// WithForcedLogoutHandler registers fn to run after the Client has dropped a session
// the backend rejected. Hosts use it to navigate to ev.EntryPoint.
func (b *Builder) WithForcedLogoutHandler(fn gateway.UnauthenticatedFunc) *Builder {
	if fn != nil {
		b.handlers = append(b.handlers, fn)
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the Gateway, metrics and event
// dispatcher into a new Client.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.repo == nil {
		return nil, errors.New("credential repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = gateway.NoOpNotifier{}
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	metrics := NewMetrics(cfg.Metrics)

	opts := []gateway.Option{
		gateway.WithNotifier(notifier),
		gateway.WithRecorder(metrics),
		gateway.WithLogger(b.logger.With().Str("component", "gateway").Logger()),
	}
	if b.httpClient != nil {
		opts = append(opts, gateway.WithHTTPClient(b.httpClient))
	}
	gw, err := gateway.New(cfg.Gateway, b.repo, opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		gw:       gw,
		repo:     b.repo,
		notifier: notifier,
		logger:   b.logger.With().Str("component", "session").Logger(),
		metrics:  metrics,
		events: events.NewDispatcher(events.Config{
			Enabled:    cfg.Events.Enabled,
			BufferSize: cfg.Events.BufferSize,
			DropIfFull: cfg.Events.DropIfFull,
		}, b.eventSink),
		now:      now,
		initDone: make(chan struct{}),
	}

	// The Client drops its state before any host handler navigates away.
	gw.OnUnauthenticated(c.onUnauthenticated)
	for _, fn := range b.handlers {
		gw.OnUnauthenticated(fn)
	}

	b.built = true
	return c, nil
}
