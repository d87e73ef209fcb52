package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"speech-relay-backend/auth"
	"speech-relay-backend/config"
	"speech-relay-backend/errlog"
	"speech-relay-backend/handlers"
	"speech-relay-backend/speech"
	"speech-relay-backend/tokencache"
	"speech-relay-backend/websocket"
)

// app holds the relay's long-lived components.
type app struct {
	cfg     *config.Config
	guard   *auth.Guard
	limiter *auth.RateLimiter
	tokens  *tokencache.Cache
	relay   *handlers.Relay

	// monitor stream, nil when disabled
	hub     *websocket.Hub
	monitor *auth.MonitorToken

	closers []func()
}

// events is nil-safe: a nil hub must not become a non-nil interface.
func (a *app) events() handlers.EventPublisher {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

func newTokenStore(cfg *config.Config) (tokencache.Store, func()) {
	if cfg.TokenStore == config.TokenStoreMemory {
		s := tokencache.NewMemoryStore(cfg.TokenTTL)
		return s, s.Close
	}
	return tokencache.NewFileStore(cfg.TokenFile, cfg.TokenTTL), func() {}
}

func newTokenCache(cfg *config.Config, events tokencache.EventPublisher) (*tokencache.Cache, func()) {
	store, closeStore := newTokenStore(cfg)
	issuer := tokencache.NewHTTPIssuer(cfg.TokenEndpoint, cfg.TokenTimeout)

	var opts []tokencache.Option
	if events != nil {
		opts = append(opts, tokencache.WithEvents(events))
	}
	return tokencache.New(store, issuer, opts...), closeStore
}

func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Monitor.Enabled {
		tok, err := auth.NewMonitorToken(cfg.Monitor.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("monitor token: %w", err)
		}
		a.monitor = tok
		a.hub = websocket.NewHub(tok)
		go a.hub.Run()
		a.closers = append(a.closers, a.hub.Stop, tok.Cleanup)
	}

	events := a.events()

	var recorder auth.ErrorRecorder
	if cfg.ErrorLogFile != "" {
		recorder = errlog.NewFileLog(cfg.ErrorLogFile)
	}
	a.guard = auth.NewGuard(cfg.AllowedOrigins, recorder, events)
	a.guard.SetPublic(cfg.Public)

	a.limiter = auth.NewRateLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst)
	a.closers = append(a.closers, a.limiter.Stop)

	var closeStore func()
	a.tokens, closeStore = newTokenCache(cfg, events)
	a.closers = append(a.closers, closeStore)

	synth := speech.NewClient(speech.ClientConfig{
		Endpoint:     cfg.SynthesisEndpoint,
		OutputFormat: cfg.OutputFormat,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.SynthesisTimeout,
	})
	a.relay = handlers.NewRelay(a.tokens, synth, events, handlers.SettingsFromConfig(cfg))

	if !cfg.HasCredentials() {
		logrus.Warnln("subscription key or region not set, synthesis requests will fail")
	}
	return a, nil
}

// applyConfig updates the running components after a config reload.
// Listener, stores and endpoints only change on restart.
func (a *app) applyConfig(cfg *config.Config) {
	a.guard.SetOrigins(cfg.AllowedOrigins)
	a.guard.SetPublic(cfg.Public)
	a.relay.Update(handlers.SettingsFromConfig(cfg))
	if err := cfg.Log.Apply(); err != nil {
		logrus.WithError(err).Warnln("invalid log settings in reloaded config")
	}
	logrus.WithField("origins", len(cfg.AllowedOrigins)).Infoln("applied reloaded config")
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return a.guard.Check(origin, "").Allowed
		},
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if a.hub != nil {
		r.Get("/ws", a.hub.HandleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)
		r.Use(a.guard.Middleware)

		r.Post("/api/tts", a.relay.ServeHTTP)
		r.Post("/", a.relay.ServeHTTP)
	})

	return r
}
