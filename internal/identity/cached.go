package identity

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/cache"
)

// refreshSkew is how long before expiry a cached token is replaced
const refreshSkew = 5 * time.Minute

// CachedTokenSource reuses tokens from src until shortly before they expire.
// Tokens live in memory only.
type CachedTokenSource struct {
	src   oauth2.TokenSource
	key   string
	cache *cache.Cache[*oauth2.Token]
	mu    sync.Mutex
	now   func() time.Time
}

// NewCachedTokenSource wraps src. key identifies the token in c, typically the scope.
func NewCachedTokenSource(src oauth2.TokenSource, c *cache.Cache[*oauth2.Token], key string) *CachedTokenSource {
	return &CachedTokenSource{
		src:   src,
		key:   key,
		cache: c,
		now:   time.Now,
	}
}

// Token returns the cached token or fetches a new one.
func (s *CachedTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.cache.Get(s.key); ok {
		return tok, nil
	}

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(0)
	if !tok.Expiry.IsZero() {
		ttl = tok.Expiry.Sub(s.now()) - refreshSkew
	}
	if tok.Expiry.IsZero() || ttl > 0 {
		s.cache.Set(s.key, tok, ttl)
	}

	slog.Debug("Directory token acquired", Describe(tok)...)
	return tok, nil
}
