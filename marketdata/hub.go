package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quantfold/ibot/market"
)

const (
	// maxFailures is the consecutive-failure threshold that demotes a
	// provider to Unavailable.
	maxFailures = 3

	// probeInterval is how often demoted providers are retried.
	probeInterval = 60 * time.Second

	// callTimeout bounds a single upstream fetch.
	callTimeout = 10 * time.Second
)

type cachedQuote struct {
	quote   market.Quote
	fetched time.Time
}

type providerState struct {
	provider    Provider
	failures    int
	lastSuccess time.Time
}

func (s *providerState) health() Health {
	switch {
	case s.failures >= maxFailures:
		return Unavailable
	case s.failures > 0:
		return Degraded
	default:
		return Healthy
	}
}

// Hub unifies N providers behind one interface with caching, health
// tracking and failover. Providers are tried in registration order;
// the first is the primary.
type Hub struct {
	log *zap.Logger
	ttl time.Duration

	group singleflight.Group

	mu        sync.Mutex
	providers []*providerState
	cache     map[string]cachedQuote
	lastProbe map[string]string // provider name -> last symbol it failed on

	now func() time.Time // injectable for tests
}

// NewHub creates a hub over the given providers, primary first.
func NewHub(log *zap.Logger, ttl time.Duration, providers ...Provider) *Hub {
	h := &Hub{
		log:       log,
		ttl:       ttl,
		cache:     make(map[string]cachedQuote),
		lastProbe: make(map[string]string),
		now:       time.Now,
	}
	for _, p := range providers {
		h.providers = append(h.providers, &providerState{provider: p})
	}
	return h
}

// GetQuote returns the freshest quote for symbol. With allowCache set,
// a cached value younger than the TTL is returned without contacting
// any provider. Concurrent uncached requests for the same symbol
// collapse into a single upstream fetch.
func (h *Hub) GetQuote(ctx context.Context, symbol string, allowCache bool) (market.Quote, error) {
	if allowCache {
		if q, ok := h.cachedFresh(symbol); ok {
			return q, nil
		}
	}

	v, err, _ := h.group.Do(symbol, func() (interface{}, error) {
		// Re-check the cache inside the flight: a caller that queued
		// behind a fetch may find the result already stored.
		if allowCache {
			if q, ok := h.cachedFresh(symbol); ok {
				return q, nil
			}
		}
		return h.fetchQuote(ctx, symbol)
	})
	if err != nil {
		return market.Quote{}, err
	}
	return v.(market.Quote), nil
}

func (h *Hub) cachedFresh(symbol string) (market.Quote, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cache[symbol]
	if !ok || h.now().Sub(c.fetched) >= h.ttl {
		return market.Quote{}, false
	}
	return c.quote, true
}

// fetchQuote walks the provider list in order, skipping demoted
// providers, until one succeeds. All providers exhausted yields
// market.ErrNotAvailable so one symbol's outage never aborts the cycle.
func (h *Hub) fetchQuote(ctx context.Context, symbol string) (market.Quote, error) {
	for _, st := range h.candidates() {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		q, err := st.provider.GetQuote(cctx, symbol)
		cancel()

		if err != nil || !q.HasPrice() {
			h.recordFailure(st, symbol, err)
			continue
		}

		h.recordSuccess(st)
		h.storeCache(symbol, q)
		return q, nil
	}
	h.log.Warn("all providers exhausted", zap.String("symbol", symbol))
	return market.Quote{}, market.ErrNotAvailable
}

// GetHistoricalBars returns historical bars from the first available
// provider. Results are not cached. A provider answering with no bars
// stays healthy: empty history is a symbol property, not a provider
// fault, so the next provider is tried without a health strike.
func (h *Hub) GetHistoricalBars(ctx context.Context, symbol string, req BarRequest) ([]market.Bar, error) {
	for _, st := range h.candidates() {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		bars, err := st.provider.GetHistoricalBars(cctx, symbol, req)
		cancel()

		if err != nil {
			h.recordFailure(st, symbol, err)
			continue
		}

		h.recordSuccess(st)
		if len(bars) == 0 {
			continue
		}
		return bars, nil
	}
	return nil, market.ErrNotAvailable
}

// candidates returns providers eligible for a fetch, in priority order.
func (h *Hub) candidates() []*providerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*providerState, 0, len(h.providers))
	for _, st := range h.providers {
		if st.health() != Unavailable {
			out = append(out, st)
		}
	}
	return out
}

func (h *Hub) recordFailure(st *providerState, symbol string, err error) {
	h.mu.Lock()
	st.failures++
	demoted := st.failures == maxFailures
	h.lastProbe[st.provider.Name()] = symbol
	h.mu.Unlock()

	h.log.Warn("provider fetch failed",
		zap.String("provider", st.provider.Name()),
		zap.String("symbol", symbol),
		zap.Error(err))
	if demoted {
		h.log.Warn("provider demoted to unavailable",
			zap.String("provider", st.provider.Name()))
	}
}

func (h *Hub) recordSuccess(st *providerState) {
	h.mu.Lock()
	restored := st.failures >= maxFailures
	st.failures = 0
	st.lastSuccess = h.now()
	h.mu.Unlock()

	if restored {
		h.log.Info("provider restored to healthy",
			zap.String("provider", st.provider.Name()))
	}
}

func (h *Hub) storeCache(symbol string, q market.Quote) {
	h.mu.Lock()
	h.cache[symbol] = cachedQuote{quote: q, fetched: h.now()}
	h.mu.Unlock()
}

// Probe retries every demoted provider once; a single success restores
// it to Healthy. Called on a low-frequency tick by RunProbe.
func (h *Hub) Probe(ctx context.Context) {
	h.mu.Lock()
	var demoted []*providerState
	for _, st := range h.providers {
		if st.health() == Unavailable {
			demoted = append(demoted, st)
		}
	}
	h.mu.Unlock()

	for _, st := range demoted {
		h.mu.Lock()
		symbol := h.lastProbe[st.provider.Name()]
		h.mu.Unlock()
		if symbol == "" {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		q, err := st.provider.GetQuote(cctx, symbol)
		cancel()

		if err == nil && q.HasPrice() {
			h.recordSuccess(st)
			h.storeCache(symbol, q)
		}
	}
}

// RunProbe runs the background probe loop until ctx is done.
func (h *Hub) RunProbe(ctx context.Context) error {
	t := time.NewTicker(probeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			h.Probe(ctx)
		}
	}
}

// Status returns a health snapshot for every provider.
func (h *Hub) Status() []ProviderStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ProviderStatus, 0, len(h.providers))
	for _, st := range h.providers {
		s := ProviderStatus{
			Name:     st.provider.Name(),
			Health:   st.health(),
			Failures: st.failures,
		}
		if !st.lastSuccess.IsZero() {
			s.LastSuccess = st.lastSuccess.UnixNano()
		}
		out = append(out, s)
	}
	return out
}
