package service

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ccmanuelf/kpi-operations-sub013/auth"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// ErrRateLimited rejects login attempts over the per-source budget. It is a
// transport concern, not a domain kind; transports map it to their own
// too-many-requests signal with a retry hint.
var ErrRateLimited = errors.New("too many login attempts")

// loginLimiter holds one token bucket per source address. Sources are never
// evicted; the map is bounded by the address space actually attempting logins.
type loginLimiter struct {
	mu     sync.Mutex
	perMin int
	bySrc  map[string]*rate.Limiter
}

func newLoginLimiter(perMin int) *loginLimiter {
	if perMin <= 0 {
		perMin = 10
	}
	return &loginLimiter{perMin: perMin, bySrc: map[string]*rate.Limiter{}}
}

func (l *loginLimiter) allow(source string) bool {
	l.mu.Lock()
	lim, ok := l.bySrc[source]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.perMin)/60, l.perMin)
		l.bySrc[source] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Login authenticates a user. source identifies the caller for rate limiting
// (remote address for HTTP, "local" for the CLI). Over-budget attempts fail
// with ErrRateLimited before any credential work happens.
func (s *Service) Login(ctx context.Context, source, username, password string) (*auth.LoginResult, error) {
	if !s.limiter.allow(source) {
		s.log.WithField("source", source).Warn("login rate limit exceeded")
		return nil, ErrRateLimited
	}
	if s.auth == nil {
		return nil, domain.Infra(nil, "authentication is not configured")
	}
	ctx, cancel := deadline(ctx)
	defer cancel()
	return s.auth.Login(ctx, username, password)
}
