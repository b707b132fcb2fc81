// Package xiaomi implements the Xiaomi account SSO login and the signed,
// RC4-encrypted API used by Mi Fitness and Mi Home to serve smart-scale
// measurements.
//
// A Client owns one Session and issues requests strictly one at a time. It
// must not be shared by concurrent callers without external locking.
package xiaomi

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/scaleconnect/pkg/logger"
)

// Application ids accepted by the SSO endpoint.
const (
	AppXiaomiHome = "xiaomiio"
	AppMiFitness  = "miothealth"
)

const (
	vendor         = "xiaomi"
	defaultTimeout = time.Minute
	accountURL     = "https://account.xiaomi.com"
)

// Endpoints selects the hosts the client talks to.
type Endpoints struct {
	// Account is the SSO origin, without a trailing slash.
	Account string
	// Fitness returns the Mi Fitness API origin for a region.
	Fitness func(region string) string
	// Home returns the Mi Home API base (including /app) for a region.
	Home func(region string) string
}

// DefaultEndpoints returns the production hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Account: accountURL,
		Fitness: MiFitnessURL,
		Home:    XiaomiHomeURL,
	}
}

// Client talks to the Xiaomi cloud on behalf of one account.
type Client struct {
	client    *http.Client
	timeout   time.Duration
	endpoints Endpoints
	retry     RetryPolicy
	limiter   *rate.Limiter
	now       func() time.Time
	logger    logger.Logger

	session Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEndpoints overrides the vendor hosts.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		if e.Account != "" {
			c.endpoints.Account = e.Account
		}
		if e.Fitness != nil {
			c.endpoints.Fitness = e.Fitness
		}
		if e.Home != nil {
			c.endpoints.Home = e.Home
		}
	}
}

// WithRetryPolicy sets how failed API round trips are repeated.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithRateLimit paces API requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock sets the time source used for nonces and pagination windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger enables debug logging of requests.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the given application id (AppMiFitness or
// AppXiaomiHome).
func NewClient(app string, opts ...Option) *Client {
	c := &Client{
		timeout:   defaultTimeout,
		endpoints: DefaultEndpoints(),
		retry:     NoRetry(),
		now:       time.Now,
		logger:    logger.Nop(),
		session:   Session{sid: app},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}

	return c
}

// Session exposes the current session state.
func (c *Client) Session() *Session {
	return &c.session
}

// Authenticated reports whether the client holds a usable session.
func (c *Client) Authenticated() bool {
	return c.session.Authenticated()
}

// Token serializes the session as "userID:passToken" for later LoginWithToken.
func (c *Client) Token() string {
	return c.session.Token()
}

// MiFitnessURL returns the Mi Fitness API origin for region, or "" when the
// region is unknown.
func MiFitnessURL(region string) string {
	switch region {
	case "", "cn":
		return "https://hlth.io.mi.com"
	case "de", "i2", "ru", "sg", "us":
		return "https://" + region + ".hlth.io.mi.com"
	}
	return ""
}

// XiaomiHomeURL returns the Mi Home API base for region, or "" when the
// region is unknown.
func XiaomiHomeURL(region string) string {
	switch region {
	case "", "cn":
		return "https://api.io.mi.com/app"
	case "de", "i2", "ru", "sg", "us":
		return "https://" + region + ".api.io.mi.com/app"
	}
	return ""
}
