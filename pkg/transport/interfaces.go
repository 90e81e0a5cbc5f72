package transport

import "context"

// AuthExchanger runs one session key exchange with the Authentication
// Service and returns its response. The handler only ever talks to the Auth
// through this, so tests can swap in a fake.
type AuthExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*AuthResponse, error)
}

// ExchangerFunc is an AuthExchanger backed by a function.
type ExchangerFunc func(ctx context.Context, req ExchangeRequest) (*AuthResponse, error)

func (f ExchangerFunc) Exchange(ctx context.Context, req ExchangeRequest) (*AuthResponse, error) {
	return f(ctx, req)
}

var (
	_ AuthExchanger = (*AuthClient)(nil)
	_ AuthExchanger = ExchangerFunc(nil)
)
