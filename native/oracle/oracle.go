package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrPriceUnavailable indicates that no usable price exists for the asset,
	// neither from the primary source nor from the staleness-bounded cache.
	ErrPriceUnavailable = errors.New("oracle: price unavailable")
	// ErrPriceStale indicates that the best available quote is older than the
	// configured staleness window.
	ErrPriceStale = errors.New("oracle: price stale")
)

// Quote captures a USD price for an asset along with the timestamp reported by
// the upstream oracle and the oracle identifier. Prices are wad-scaled (1e18)
// USD per whole unit of the asset.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceOracle resolves the current USD price for an asset symbol.
type PriceOracle interface {
	GetPrice(asset string) (Quote, error)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]Quote)}
}

// SetDecimal records the supplied decimal USD price for the asset using the
// provided timestamp. The price string is interpreted in whole USD and scaled
// to wad precision.
func (m *ManualOracle) SetDecimal(asset, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: price must be positive")
	}
	wad := new(big.Rat).Mul(rat, new(big.Rat).SetInt(big.NewInt(1e18)))
	m.Set(asset, new(big.Int).Quo(wad.Num(), wad.Denom()), ts)
	return nil
}

// Set stores the provided wad-scaled USD price for the asset.
func (m *ManualOracle) Set(asset string, price *big.Int, ts time.Time) {
	if m == nil || price == nil || price.Sign() <= 0 {
		return
	}
	key := normalizeSymbol(asset)
	if key == "" {
		return
	}
	m.mu.Lock()
	m.quotes[key] = Quote{Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// GetPrice retrieves the stored price for the asset.
func (m *ManualOracle) GetPrice(asset string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	key := normalizeSymbol(asset)
	m.mu.RLock()
	stored, ok := m.quotes[key]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("manual oracle: quote for %s not found: %w", key, ErrPriceUnavailable)
	}
	return stored.Clone(), nil
}

// CachedOracle wraps a primary price source with a last-known-good cache. When
// the primary fails, the cached quote is served while it remains inside the
// staleness window; past the window the lookup fails with ErrPriceUnavailable.
// A quote the primary itself reports as older than the window fails fast with
// ErrPriceStale rather than being retried.
type CachedOracle struct {
	mu       sync.RWMutex
	primary  PriceOracle
	maxAge   time.Duration
	cache    map[string]Quote
	clockNow func() time.Time
}

// NewCachedOracle constructs a caching wrapper around the primary source with
// the provided staleness window. A non-positive window disables staleness
// checks entirely.
func NewCachedOracle(primary PriceOracle, maxAge time.Duration) *CachedOracle {
	return &CachedOracle{
		primary:  primary,
		maxAge:   maxAge,
		cache:    make(map[string]Quote),
		clockNow: time.Now,
	}
}

// SetMaxAge updates the staleness window applied to cached and primary quotes.
func (c *CachedOracle) SetMaxAge(maxAge time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.maxAge = maxAge
	c.mu.Unlock()
}

// SetClock overrides the time source, used by tests to control staleness.
func (c *CachedOracle) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.mu.Lock()
	c.clockNow = now
	c.mu.Unlock()
}

func (c *CachedOracle) fresh(q Quote, now time.Time) bool {
	if c.maxAge <= 0 {
		return true
	}
	if q.Timestamp.IsZero() {
		return false
	}
	return !q.Timestamp.Before(now.Add(-c.maxAge))
}

// GetPrice consults the primary source first, falling back to the cached quote
// when the primary is unavailable.
func (c *CachedOracle) GetPrice(asset string) (Quote, error) {
	if c == nil || c.primary == nil {
		return Quote{}, ErrPriceUnavailable
	}
	key := normalizeSymbol(asset)
	if key == "" {
		return Quote{}, fmt.Errorf("oracle: asset required: %w", ErrPriceUnavailable)
	}

	c.mu.RLock()
	now := c.clockNow()
	c.mu.RUnlock()

	quote, err := c.primary.GetPrice(key)
	if err == nil && quote.Price != nil && quote.Price.Sign() > 0 {
		c.mu.Lock()
		if !c.fresh(quote, now) {
			c.mu.Unlock()
			return Quote{}, ErrPriceStale
		}
		c.cache[key] = quote.Clone()
		c.mu.Unlock()
		return quote.Clone(), nil
	}

	c.mu.RLock()
	cached, ok := c.cache[key]
	fresh := ok && c.fresh(cached, now)
	c.mu.RUnlock()
	if fresh {
		return cached.Clone(), nil
	}
	if err != nil && errors.Is(err, ErrPriceUnavailable) {
		return Quote{}, err
	}
	if err == nil {
		return Quote{}, ErrPriceUnavailable
	}
	return Quote{}, fmt.Errorf("oracle: primary failed and cache exhausted: %v: %w", err, ErrPriceUnavailable)
}
