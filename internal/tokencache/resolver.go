// Package tokencache resolves a token mint address to a human-readable
// symbol for cmd/live's log lines. Adapted in place from the
// teacher's internal/token/resolver.go Resolver/Cache split, but the
// resolution direction is reversed — the teacher resolved a
// human-typed name or CA down to a mint address for order execution;
// this pipeline only ever has a mint address (from on-chain events) and
// wants a symbol to print, so Resolve here goes mint -> symbol with the
// mint itself as a fallback, never an error. The teacher's Cache type
// used by resolver.go was not present anywhere in the retrieved pack,
// so cache.go defines a minimal file-backed replacement in the same
// shape rather than fabricating a stub. Pubkey-shape validation
// (Base58 decode + length range) already lives in domain.LooksLikePubkey,
// so it isn't duplicated here.
package tokencache

import (
	"github.com/rs/zerolog/log"
)

// Resolver resolves mint addresses to cached display symbols.
type Resolver struct {
	cache *Cache
}

// NewResolver creates a Resolver backed by cache.
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve returns the display symbol for a mint address, falling back
// to a truncated form of the mint itself (first 4 + last 4 chars) when
// nothing is cached, so a caller never gets a bare "token not found"
// in place of a name.
func (r *Resolver) Resolve(mint string) string {
	if sym, ok := r.cache.Get(mint); ok {
		log.Debug().Str("mint", mint).Str("symbol", sym).Msg("token resolved from cache")
		return sym
	}
	return truncateMint(mint)
}

// AddToken records a mint's symbol and persists the cache.
func (r *Resolver) AddToken(mint, symbol string) error {
	r.cache.Set(mint, symbol)
	return r.cache.Save()
}

// CacheSize returns the number of cached tokens.
func (r *Resolver) CacheSize() int {
	return r.cache.Size()
}

func truncateMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}
