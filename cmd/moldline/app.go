package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omochice/moldline/internal/api"
	"github.com/omochice/moldline/internal/chat"
	"github.com/omochice/moldline/internal/client"
	"github.com/omochice/moldline/internal/config"
	"github.com/omochice/moldline/internal/credstore"
	"github.com/omochice/moldline/internal/logging"
	"github.com/omochice/moldline/internal/metrics"
	"github.com/omochice/moldline/internal/session"
	"github.com/omochice/moldline/internal/transport/ws"
	"github.com/omochice/moldline/internal/usercache"
)

// loadConfig reads the config file and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	if flags.chatURL != "" {
		cfg.ChatAPIURL = flags.chatURL
	}
	if flags.authURL != "" {
		cfg.AuthAPIURL = flags.authURL
	}
	if flags.wsURL != "" {
		cfg.WSURL = flags.wsURL
	}
	if flags.store != "" && flags.store != cfg.CredentialStore {
		cfg.CredentialStore = flags.store
		// The default path depends on the backend.
		cfg.CredentialPath = ""
	}
	if flags.credentialPath != "" {
		cfg.CredentialPath = flags.credentialPath
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app wires the client components for one command invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    credstore.Store
	api      *api.Client
	registry *client.Registry
	manager  *client.Manager
	gate     *session.Gate
	users    *usercache.Cache
	metrics  *prometheus.Registry
}

// newApp builds the client. extra options are applied to the connection
// manager after the defaults.
func newApp(flags *globalFlags, extra ...client.Option) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	log := logging.New(os.Stderr, cfg.LogLevel)

	store, err := credstore.Open(cfg.CredentialStore, cfg.CredentialPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: prometheus.NewRegistry(),
	}
	transport := metrics.NewTransport(a.metrics)

	a.api = api.New(cfg.ChatAPIURL, cfg.AuthAPIURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout()}),
		api.WithCredentials(func() (string, string) { return a.gate.Identity() }),
		api.WithLogger(log),
	)

	dialer := ws.NewDialer(cfg.WSURL, ws.WithTokenSource(func() string { return a.gate.Token() }))
	a.registry = client.NewRegistry(log, transport)
	opts := append([]client.Option{
		client.WithBackoff(cfg.ReconnectDelay()),
		client.WithLogger(log),
		client.WithMetrics(transport),
	}, extra...)
	a.manager = client.NewManager(dialer, a.registry, opts...)

	a.gate = session.NewGate(store, a.api, a.manager, session.WithLogger(log))
	a.api.SetUnauthorizedHook(a.gate.Logout)

	a.users = usercache.New(a.api, log)
	return a, nil
}

// chatOptions are the options shared by the conversation views.
func (a *app) chatOptions(extra ...chat.Option) []chat.Option {
	return append([]chat.Option{
		chat.WithLogger(a.log),
		chat.WithRefreshRate(rate.Limit(a.cfg.RefreshPerSecond)),
	}, extra...)
}

// requireSession fails unless an identity is held.
func (a *app) requireSession() error {
	if !a.gate.IsLoggedIn() {
		return fmt.Errorf("not logged in; run `moldline login` first")
	}
	return nil
}

func (a *app) close() {
	a.manager.Disconnect()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close credential store")
	}
}
