// Package accounts creates, logs in and caches vendor accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/scaleconnect/internal/config"
	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/picooc"
	"github.com/okian/scaleconnect/pkg/xiaomi"
)

// Account types accepted in source lines.
const (
	Xiaomi     = "xiaomi"
	MiFitness  = "mifitness"
	XiaomiHome = "xiaomihome"
	Picooc     = "picooc"
)

var (
	// ErrUnsupportedType is returned for an unknown account type.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrMissingCredentials is returned when neither a token nor a password is available.
	ErrMissingCredentials = errors.New("accounts: missing username or password")
)

// TokenStore keeps resumable session tokens.
type TokenStore interface {
	Load(key string) string
	Save(key, token string) error
}

// Factory builds an unauthenticated account for a type.
type Factory func(accType string) (core.Account, error)

// PasswordPrompt asks for the password of username.
type PasswordPrompt func(ctx context.Context, username string) (string, error)

// Registry hands out logged-in accounts keyed by "type:username". The whole
// cache is dropped every ttl since vendor tokens carry no expiry.
type Registry struct {
	store   TokenStore
	factory Factory
	prompt  PasswordPrompt
	ttl     time.Duration
	now     func() time.Time
	logger  logger.Logger

	mu       sync.Mutex
	accounts map[string]core.Account
	expires  time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory replaces the account constructor.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithPrompt sets how missing passwords are asked for.
func WithPrompt(p PasswordPrompt) Option {
	return func(r *Registry) { r.prompt = p }
}

// WithTTL sets the cache lifetime.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithClock sets the time source of the cache.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry that keeps tokens in store.
func NewRegistry(store TokenStore, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		factory:  NewFactory(Vendors{}),
		ttl:      23 * time.Hour,
		now:      time.Now,
		logger:   logger.Nop(),
		accounts: map[string]core.Account{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Vendors holds the options each vendor client is built with.
type Vendors struct {
	Xiaomi []xiaomi.Option
	Picooc []picooc.Option
}

// NewFactory builds vendor clients.
func NewFactory(v Vendors) Factory {
	return func(accType string) (core.Account, error) {
		switch accType {
		case Xiaomi, MiFitness:
			return xiaomi.NewClient(xiaomi.AppMiFitness, v.Xiaomi...), nil
		case XiaomiHome:
			return xiaomi.NewClient(xiaomi.AppXiaomiHome, v.Xiaomi...), nil
		case Picooc:
			return picooc.NewClient(v.Picooc...), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, accType)
	}
}

// XiaomiOptions maps the vendor settings to client options.
func XiaomiOptions(cfg config.Xiaomi, l logger.Logger) []xiaomi.Option {
	retry := xiaomi.NoRetry()
	if cfg.RetryAttempts > 1 {
		retry = xiaomi.ExponentialRetry(cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}

	return []xiaomi.Option{
		xiaomi.WithTimeout(cfg.Timeout),
		xiaomi.WithRetryPolicy(retry),
		xiaomi.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		xiaomi.WithLogger(l),
	}
}

// Get returns the account for fields [type, username, password, ...],
// logging in when it is not cached.
func (r *Registry) Get(ctx context.Context, fields []string) (core.Account, error) {
	if len(fields) < 2 {
		return nil, ErrMissingCredentials
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if now := r.now(); now.After(r.expires) {
		r.accounts = map[string]core.Account{}
		r.expires = now.Add(r.ttl)
	}

	key := fields[0] + ":" + fields[1]
	if acc, ok := r.accounts[key]; ok {
		if s, ok := acc.(core.SessionChecker); !ok || s.Authenticated() {
			return acc, nil
		}
		r.logger.Info(ctx, "session expired, logging in again", logger.String("account", key))
		delete(r.accounts, key)
	}

	acc, err := r.login(ctx, fields, key)
	if err != nil {
		return nil, err
	}

	r.accounts[key] = acc
	return acc, nil
}

func (r *Registry) login(ctx context.Context, fields []string, key string) (core.Account, error) {
	acc, err := r.factory(fields[0])
	if err != nil {
		return nil, err
	}

	withToken, hasToken := acc.(core.AccountWithToken)
	if hasToken {
		if token := r.store.Load(key); token != "" {
			if err = withToken.LoginWithToken(ctx, token); err == nil {
				r.logger.Debug(ctx, "resumed session", logger.String("account", key))
				return acc, nil
			}
			r.logger.Warn(ctx, "token login failed", logger.String("account", key), logger.Error(err))
		}
	}

	var password string
	if len(fields) > 2 {
		password = fields[2]
	}
	if password == "" {
		if r.prompt == nil {
			return nil, ErrMissingCredentials
		}
		if password, err = r.prompt(ctx, fields[1]); err != nil {
			return nil, err
		}
	}

	if err = acc.Login(ctx, fields[1], password); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	if hasToken {
		if err = r.store.Save(key, withToken.Token()); err != nil {
			r.logger.Error(ctx, "save token", logger.String("account", key), logger.Error(err))
		}
	}

	r.logger.Info(ctx, "logged in", logger.String("account", key))
	return acc, nil
}
