// Package api provides the HTTP surface of Standardiste.
//
// It exposes the telephony webhook that delivers caller turns, the call-ended
// hook, audit read endpoints and a health probe. Tenants are identified by
// the called number on every inbound request.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/flow"
	"github.com/accueilvox/standardiste/internal/store"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
	// TwilioAuthToken enables webhook signature validation when set.
	TwilioAuthToken string
	// PublicURL is the externally visible base URL used to reconstruct the
	// signed webhook URL behind a proxy.
	PublicURL string
}

// Option configures API server construction.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioAuthToken enables Twilio webhook signature validation.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) { o.TwilioAuthToken = token }
}

// WithPublicURL sets the external base URL for signature validation.
func WithPublicURL(u string) Option {
	return func(o *Opts) { o.PublicURL = u }
}

// Server handles HTTP requests for call turns and audit reads.
type Server struct {
	processor *flow.TurnProcessor
	resolver  *config.Resolver
	store     store.Store
	validator *twilioclient.RequestValidator
	opts      Opts
	httpSrv   *http.Server
}

// NewServer creates the API server over the turn processor and store.
func NewServer(processor *flow.TurnProcessor, resolver *config.Resolver, st store.Store, options ...Option) *Server {
	var opts Opts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{processor: processor, resolver: resolver, store: st, opts: opts}
	if opts.TwilioAuthToken != "" {
		v := twilioclient.NewRequestValidator(opts.TwilioAuthToken)
		s.validator = &v
	}
	return s
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/v1/calls/turn", s.turnHandler)
	mux.HandleFunc("/v1/calls/ended", s.callEndedHandler)
	mux.HandleFunc("/v1/calls/journal", s.journalHandler)
	mux.HandleFunc("/v1/calls/events", s.eventsHandler)
	mux.HandleFunc("/v1/webhooks/twilio/turn", s.twilioTurnHandler)

	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.opts.Addr, "twilioValidation", s.validator != nil)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
