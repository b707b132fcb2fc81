package core

import "context"

// Account is the capability every vendor client provides.
type Account interface {
	Login(ctx context.Context, username, password string) error
	GetAllWeights(ctx context.Context) ([]*Weight, error)
}

// AccountWithToken can persist and resume its session.
type AccountWithToken interface {
	Account
	LoginWithToken(ctx context.Context, token string) error
	Token() string
}

// AccountWithFilter narrows the fetch to a region or device model.
type AccountWithFilter interface {
	GetFilterWeights(ctx context.Context, filter string) ([]*Weight, error)
}

// AccountWithModel fetches measurements of one device model in one region.
type AccountWithModel interface {
	GetModelWeights(ctx context.Context, region, model string) ([]*Weight, error)
}

// SessionChecker reports whether a cached account can still be used.
type SessionChecker interface {
	Authenticated() bool
}

// AccountWithAddWeights accepts measurements. Equal decides whether a stored
// measurement must be replaced by a new one with the same date.
type AccountWithAddWeights interface {
	AddWeights(ctx context.Context, weights []*Weight) error
	DeleteWeight(ctx context.Context, weight *Weight) error
	Equal(a, b *Weight) bool
}
