// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package broker is the client side of the broker actor API: the actor
// announces itself, reports readiness and address changes, and tells the
// broker about user logons and logoffs.
package broker

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/httprequest.v1"

	"github.com/virtualcable/udsactor/core/identity"
)

var logger = loggo.GetLogger("udsactor.broker")

const (
	// APIPath is appended to the broker URL to reach the actor API.
	APIPath = "/uds/rest/actor/v3"

	// ActorType identifies the kind of actor to the broker.
	ActorType = "windows"

	// DefaultTimeout bounds every broker call.
	DefaultTimeout = 10 * time.Second
)

// Config holds the parameters of a Client.
type Config struct {
	// URL is the broker base URL, e.g. https://broker.example.com.
	URL string

	// Token is the registration token of the actor.
	Token string

	// Version is reported to the broker on initialization.
	Version string

	// Timeout bounds every call. Zero means DefaultTimeout.
	Timeout time.Duration

	// SkipVerify disables TLS certificate verification.
	SkipVerify bool

	// Doer, if set, is used instead of a client built from the fields
	// above.
	Doer httprequest.Doer
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if c.Token == "" {
		return errors.NotValidf("empty Token")
	}
	if c.Timeout < 0 {
		return errors.NotValidf("negative Timeout")
	}
	return nil
}

// Client talks to the broker actor API.
type Client struct {
	client  *httprequest.Client
	token   string
	version string

	mu       sync.Mutex
	ownToken string
}

// NewClient returns a broker client.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	doer := config.Doer
	if doer == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if config.SkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		doer = &http.Client{Timeout: timeout, Transport: transport}
	}
	return &Client{
		client: &httprequest.Client{
			BaseURL:        strings.TrimRight(config.URL, "/") + APIPath,
			Doer:           doer,
			UnmarshalError: httprequest.ErrorUnmarshaler(new(Error)),
		},
		token:   config.Token,
		version: config.Version,
	}, nil
}

// OwnToken returns the token assigned by the broker on initialization.
func (c *Client) OwnToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownToken
}

// SetOwnToken sets the token used to identify this actor instance, for
// example when restored from the agent config.
func (c *Client) SetOwnToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownToken = token
}

// Initialize announces the actor and its network interfaces to the
// broker. The result may carry a join request for this machine.
func (c *Client) Initialize(ctx context.Context, interfaces []Interface) (InitializeResult, error) {
	req := initializeRequest{
		Body: initializeBody{
			Type:       ActorType,
			Version:    c.version,
			Token:      c.token,
			Interfaces: interfaces,
		},
	}
	var resp initializeResponse
	if err := c.client.Call(ctx, &req, &resp); err != nil {
		return InitializeResult{}, errors.Annotate(err, "initializing with broker")
	}
	if resp.Result.OwnToken != "" {
		c.SetOwnToken(resp.Result.OwnToken)
	}
	logger.Debugf("initialized with broker, unique id %q", resp.Result.UniqueID)
	return resp.Result, nil
}

// Ready tells the broker the actor is ready at the given address.
func (c *Client) Ready(ctx context.Context, ip string, port int) error {
	req := readyRequest{Body: addressBody{Token: c.OwnToken(), IP: ip, Port: port}}
	if err := c.client.Call(ctx, &req, nil); err != nil {
		return errors.Annotatef(err, "notifying broker ready at %s", ip)
	}
	return nil
}

// ChangeIP tells the broker the actor address has changed.
func (c *Client) ChangeIP(ctx context.Context, ip string, port int) error {
	req := ipChangeRequest{Body: addressBody{Token: c.OwnToken(), IP: ip, Port: port}}
	if err := c.client.Call(ctx, &req, nil); err != nil {
		return errors.Annotatef(err, "notifying broker of address %s", ip)
	}
	return nil
}

// Login tells the broker a user has logged on.
func (c *Client) Login(ctx context.Context, user, sessionType string) (LoginResult, error) {
	req := loginRequest{Body: sessionBody{
		Type:        ActorType,
		Token:       c.OwnToken(),
		User:        user,
		SessionType: sessionType,
	}}
	var resp loginResponse
	if err := c.client.Call(ctx, &req, &resp); err != nil {
		return LoginResult{}, errors.Annotatef(err, "notifying broker of login of %q", user)
	}
	return resp.Result, nil
}

// Logout tells the broker a user has logged off.
func (c *Client) Logout(ctx context.Context, user, sessionType string) error {
	req := logoutRequest{Body: sessionBody{
		Type:        ActorType,
		Token:       c.OwnToken(),
		User:        user,
		SessionType: sessionType,
	}}
	if err := c.client.Call(ctx, &req, nil); err != nil {
		return errors.Annotatef(err, "notifying broker of logout of %q", user)
	}
	return nil
}

// Interface is a network interface reported on initialization.
type Interface struct {
	MAC string `json:"mac"`
	IP  string `json:"ip"`
}

// InitializeResult is the broker answer to Initialize.
type InitializeResult struct {
	OwnToken string     `json:"own_token"`
	UniqueID string     `json:"unique_id"`
	OS       *OSRequest `json:"os,omitempty"`
}

// Action values of an OSRequest.
const (
	ActionRename   = "rename"
	ActionRenameAD = "rename_ad"
)

// OSRequest is what the broker wants done to the machine identity.
type OSRequest struct {
	Action             string `json:"action"`
	Name               string `json:"name"`
	Domain             string `json:"ad,omitempty"`
	OrganizationalUnit string `json:"ou,omitempty"`
	Account            string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"`
}

// JoinIntent converts a rename_ad request into a join intent. The
// second result is false when the request does not ask for a domain
// join.
func (r *OSRequest) JoinIntent() (identity.JoinIntent, bool) {
	if r == nil || r.Action != ActionRenameAD {
		return identity.JoinIntent{}, false
	}
	return identity.JoinIntent{
		TargetName:         r.Name,
		Domain:             r.Domain,
		OrganizationalUnit: r.OrganizationalUnit,
		Account:            r.Account,
		Secret:             []byte(r.Password),
	}, true
}

// LoginResult is the broker answer to Login.
type LoginResult struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	DeadLine *int   `json:"dead_line,omitempty"`
	MaxIdle  *int   `json:"max_idle,omitempty"`
}

type initializeBody struct {
	Type       string      `json:"type"`
	Version    string      `json:"version"`
	Token      string      `json:"token"`
	Interfaces []Interface `json:"id"`
}

type initializeRequest struct {
	httprequest.Route `httprequest:"POST /initialize"`
	Body              initializeBody `httprequest:",body"`
}

type initializeResponse struct {
	Result InitializeResult `json:"result"`
}

type addressBody struct {
	Token string `json:"token"`
	IP    string `json:"ip"`
	Port  int    `json:"port"`
}

type readyRequest struct {
	httprequest.Route `httprequest:"POST /ready"`
	Body              addressBody `httprequest:",body"`
}

type ipChangeRequest struct {
	httprequest.Route `httprequest:"POST /ipchange"`
	Body              addressBody `httprequest:",body"`
}

type sessionBody struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	User        string `json:"username"`
	SessionType string `json:"session_type"`
}

type loginRequest struct {
	httprequest.Route `httprequest:"POST /login"`
	Body              sessionBody `httprequest:",body"`
}

type loginResponse struct {
	Result LoginResult `json:"result"`
}

type logoutRequest struct {
	httprequest.Route `httprequest:"POST /logout"`
	Body              sessionBody `httprequest:",body"`
}
