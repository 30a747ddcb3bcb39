// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package apiserver serves the actor REST endpoint the broker calls
// before handing a session to a client.
package apiserver

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/httprequest.v1"
	"gopkg.in/tomb.v2"

	"github.com/virtualcable/udsactor/internal/sens"
)

var logger = loggo.GetLogger("udsactor.apiserver")

const (
	// DefaultPort is the port the broker expects the actor on.
	DefaultPort = 43910

	// DefaultConnectTimeout bounds the wait for a connect event to be
	// dispatched.
	DefaultConnectTimeout = 10 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Publisher queues a connect event and waits for its dispatch.
type Publisher interface {
	PublishAndWait(ctx context.Context, ev sens.Event) (string, error)
}

// Config holds the dependencies of the server.
type Config struct {
	Listener net.Listener

	// TLSConfig, if set, makes the server serve TLS.
	TLSConfig *tls.Config

	// Token returns the token the broker must present.
	Token func() string

	Publisher Publisher

	// Gatherer, if set, is served on /metrics.
	Gatherer prometheus.Gatherer

	ConnectTimeout time.Duration
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if c.Token == nil {
		return errors.NotValidf("nil Token")
	}
	if c.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	return nil
}

// Server is a worker serving the actor REST endpoint.
type Server struct {
	tomb   tomb.Tomb
	config Config
	server *http.Server
}

// NewServer starts serving on the configured listener.
func NewServer(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	s := &Server{config: config}
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.tomb.Go(s.loop)
	return s, nil
}

// Kill is part of the worker.Worker interface.
func (s *Server) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Server) Wait() error {
	return s.tomb.Wait()
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.config.Listener.Addr()
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/actor/v3/{token}/preConnect", s.preConnect).Methods(http.MethodPost)
	if s.config.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, errors.NotFoundf("%s %s", req.Method, req.URL.Path))
	})
	return router
}

func (s *Server) loop() error {
	listener := s.config.Listener
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
	}
	s.tomb.Go(func() error {
		logger.Infof("serving actor API on %s", s.config.Listener.Addr())
		err := s.server.Serve(listener)
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Annotate(err, "serving actor API")
	})

	<-s.tomb.Dying()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warningf("shutting down actor API: %v", err)
	}
	return tomb.ErrDying
}

// PreConnectParams is the body of a preConnect call.
type PreConnectParams struct {
	User     string `json:"user"`
	Protocol string `json:"protocol"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

type result struct {
	Result string `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) preConnect(w http.ResponseWriter, req *http.Request) {
	if !s.validToken(mux.Vars(req)["token"]) {
		writeError(w, http.StatusForbidden, errors.Unauthorizedf("invalid token"))
		return
	}
	var params PreConnectParams
	if err := json.NewDecoder(req.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, errors.NotValidf("preConnect body: %v", err))
		return
	}
	if params.User == "" {
		writeError(w, http.StatusBadRequest, errors.NotValidf("empty user"))
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), s.config.ConnectTimeout)
	defer cancel()
	ev := sens.NewConnectEvent(params.User, params.Protocol, params.IP, params.Hostname)
	if _, err := s.config.Publisher.PublishAndWait(ctx, ev); err != nil {
		logger.Errorf("pre connect of %q: %v", params.User, err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	_ = httprequest.WriteJSON(w, http.StatusOK, result{Result: "ok"})
}

func (s *Server) validToken(token string) bool {
	expected := s.config.Token()
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func writeError(w http.ResponseWriter, code int, err error) {
	_ = httprequest.WriteJSON(w, code, errorResponse{Error: err.Error()})
}
