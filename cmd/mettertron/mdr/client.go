package mdr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SanteonNL/mettertron/cmd/mettertron/apperror"
	"github.com/SanteonNL/mettertron/cmd/mettertron/cache"
	"github.com/SanteonNL/mettertron/cmd/mettertron/client"
	"github.com/SanteonNL/mettertron/cmd/mettertron/config"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CapabilityLinks are the links discovered on the MDR index after the first
// successful login.
type CapabilityLinks struct {
	Users       string `json:"users"`
	Itemsets    string `json:"itemsets"`
	Domains     string `json:"domains"`
	Definitions string `json:"definitions"`
	Folders     string `json:"folders"`
	Units       string `json:"units"`
}

// Client talks to the metadata repository. Reads go through the response cache
// and require a valid session.
type Client struct {
	api      *client.Client
	settings config.MdrSettings
	session  atomic.Pointer[Session]
	links    atomic.Pointer[CapabilityLinks]
	loginMu  sync.Mutex
	group    singleflight.Group
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Client)

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(settings config.MdrSettings, httpSettings config.HTTPSettings, responseCache *cache.ResponseCache, log zerolog.Logger, opts ...Option) *Client {
	log = log.With().Str("component", "mdr_client").Logger()
	c := &Client{
		api: client.New(client.Config{
			BaseURL:  settings.URL,
			Prefix:   settings.URLPrefix,
			Timeout:  httpSettings.Timeout,
			RetryMax: httpSettings.RetryMax,
		}, responseCache, log),
		settings: settings,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current session without any checks; nil when never logged in.
func (c *Client) Session() *Session {
	return c.session.Load()
}

// Links returns the discovered capability links, nil before the first login.
func (c *Client) Links() *CapabilityLinks {
	return c.links.Load()
}

// Login obtains a session according to mode. A failed token exchange leaves the
// previous session in place.
func (c *Client) Login(ctx context.Context, mode LoginMode) (*Session, error) {
	current := c.session.Load()
	switch mode {
	case LoginProbe:
		c.log.Debug().Msg("Not logging in, probing the current session only")
		return current, nil
	case LoginReuse:
		if current != nil && !current.IsExpiredAt(c.now()) {
			return current, nil
		}
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	// another caller may have refreshed the session while we waited
	if mode == LoginReuse {
		if s := c.session.Load(); s != nil && !s.IsExpiredAt(c.now()) {
			return s, nil
		}
	}

	tokenURL := client.JoinURL(c.settings.URL, "/oauth/token")
	form := url.Values{}
	form.Set("grant_type", c.settings.GrantType)
	form.Set("scope", c.settings.Scope)
	form.Set("username", c.settings.User)
	form.Set("password", c.settings.Password)

	c.log.Info().Str("url", tokenURL).Str("mode", mode.String()).Msg("Logging in to the MDR")

	var resp tokenResponse
	err := c.api.PostForm(ctx, tokenURL, form, func(req *http.Request) error {
		req.SetBasicAuth(c.settings.ClientID, c.settings.ClientSecret)
		return nil
	}, &resp)
	if err != nil {
		c.log.Warn().Err(err).Msg("MDR login failed")
		return nil, apperror.NewCommunication("error when logging in to the MDR", err)
	}
	if resp.AccessToken == "" {
		return nil, apperror.NewCommunication("the MDR login response carries no access token", nil)
	}

	session := newSession(resp, c.now())
	c.session.Store(session)
	c.log.Info().Object("session", session).Msg("Logged in to the MDR")

	if c.links.Load() == nil {
		if _, err := c.discoverLinks(ctx); err != nil {
			return session, err
		}
	}
	return session, nil
}

// Token returns the bearer token after a reuse-or-refresh login.
func (c *Client) Token(ctx context.Context) (string, error) {
	session, err := c.Login(ctx, LoginReuse)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

func (c *Client) discoverLinks(ctx context.Context) (*CapabilityLinks, error) {
	v, err, _ := c.group.Do("links", func() (interface{}, error) {
		if links := c.links.Load(); links != nil {
			return links, nil
		}

		var index Index
		if err := c.fetch(ctx, c.api.BuildRoute("/"), nil, &index); err != nil {
			return nil, err
		}

		links := &CapabilityLinks{}
		for rel, target := range map[string]*string{
			"users":       &links.Users,
			"itemsets":    &links.Itemsets,
			"domains":     &links.Domains,
			"definitions": &links.Definitions,
			"folders":     &links.Folders,
			"units":       &links.Units,
		} {
			href, ok := index.Links.Find(rel)
			if !ok {
				return nil, apperror.NewInvalidState(fmt.Sprintf("missing %s link in index", rel), nil)
			}
			*target = href
		}

		c.links.Store(links)
		c.log.Info().Interface("links", links).Msg("Discovered MDR links")
		return links, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("MDR link discovery failed")
		return nil, err
	}
	return v.(*CapabilityLinks), nil
}

// requireLinks logs in if needed and makes sure discovery has happened.
func (c *Client) requireLinks(ctx context.Context) (*CapabilityLinks, error) {
	if _, err := c.Login(ctx, LoginReuse); err != nil {
		return nil, err
	}
	if links := c.links.Load(); links != nil {
		return links, nil
	}
	return c.discoverLinks(ctx)
}

func (c *Client) sign(req *http.Request) error {
	session := c.session.Load()
	if session == nil || session.IsExpiredAt(c.now()) {
		return apperror.NewCommunication("there is no login token for the MDR client, please authenticate", nil)
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)
	return nil
}

// get funnels through a reuse-or-refresh login before reading.
func (c *Client) get(ctx context.Context, route string, query url.Values, response any) error {
	if _, err := c.Login(ctx, LoginReuse); err != nil {
		return err
	}
	return c.fetch(ctx, route, query, response)
}

func (c *Client) fetch(ctx context.Context, route string, query url.Values, response any) error {
	err := c.api.GetJSON(ctx, route, query, c.sign, response)
	if err == nil {
		return nil
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return apperror.NewNotFound(fmt.Sprintf("the MDR has no resource at %s", client.CacheKey(route, query)), err)
	}
	return apperror.NewCommunication(fmt.Sprintf("error when reading %s from the MDR", client.CacheKey(route, query)), err)
}
