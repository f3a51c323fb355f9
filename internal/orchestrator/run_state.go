package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/internal/position"
	"futures-agent/internal/state"
	"futures-agent/internal/trading"
)

// RunStateRepository persists the blacklist and cooldowns across restarts.
// database.RedisRunStateRepository implements it.
type RunStateRepository interface {
	AddBlacklisted(ctx context.Context, symbol, reason string) error
	LoadBlacklist(ctx context.Context) (map[string]string, error)
	SaveCooldown(ctx context.Context, symbol string, at time.Time) error
	LoadCooldowns(ctx context.Context) (map[string]time.Time, error)
}

// Blacklist is the set of symbols excluded for the rest of the run. Entries
// are only ever added.
type Blacklist struct {
	mu      sync.RWMutex
	symbols map[string]string
	repo    RunStateRepository
	logger  zerolog.Logger
}

// NewBlacklist creates an empty blacklist; repo may be nil
func NewBlacklist(repo RunStateRepository, logger zerolog.Logger) *Blacklist {
	return &Blacklist{symbols: make(map[string]string), repo: repo, logger: logger}
}

// Add excludes symbol. Re-adding keeps the first reason.
func (b *Blacklist) Add(symbol, reason string) {
	b.mu.Lock()
	if _, ok := b.symbols[symbol]; ok {
		b.mu.Unlock()
		return
	}
	b.symbols[symbol] = reason
	b.mu.Unlock()

	if b.repo != nil {
		if err := b.repo.AddBlacklisted(context.Background(), symbol, reason); err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to persist blacklist entry")
		}
	}
}

// Contains reports whether symbol is excluded
func (b *Blacklist) Contains(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.symbols[symbol]
	return ok
}

// Len is the number of excluded symbols
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.symbols)
}

// Snapshot returns symbol -> reason
func (b *Blacklist) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.symbols))
	for sym, reason := range b.symbols {
		out[sym] = reason
	}
	return out
}

// Load merges persisted entries
func (b *Blacklist) Load(ctx context.Context) (int, error) {
	if b.repo == nil {
		return 0, nil
	}
	entries, err := b.repo.LoadBlacklist(ctx)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sym, reason := range entries {
		if _, ok := b.symbols[sym]; !ok {
			b.symbols[sym] = reason
		}
	}
	return len(entries), nil
}

// Cooldowns tracks the last exit per symbol and blocks re-entry for a window
type Cooldowns struct {
	mu     sync.RWMutex
	last   map[string]time.Time
	window time.Duration
	repo   RunStateRepository
	logger zerolog.Logger
}

// NewCooldowns creates a cooldown table; repo may be nil
func NewCooldowns(window time.Duration, repo RunStateRepository, logger zerolog.Logger) *Cooldowns {
	return &Cooldowns{last: make(map[string]time.Time), window: window, repo: repo, logger: logger}
}

// Record marks an exit of symbol at
func (c *Cooldowns) Record(symbol string, at time.Time) {
	c.mu.Lock()
	c.last[symbol] = at
	c.mu.Unlock()

	if c.repo != nil {
		if err := c.repo.SaveCooldown(context.Background(), symbol, at); err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to persist cooldown")
		}
	}
}

// Active reports whether symbol exited less than the window ago
func (c *Cooldowns) Active(symbol string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	at, ok := c.last[symbol]
	return ok && now.Sub(at) < c.window
}

// Load merges persisted exit times
func (c *Cooldowns) Load(ctx context.Context) (int, error) {
	if c.repo == nil {
		return 0, nil
	}
	entries, err := c.repo.LoadCooldowns(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym, at := range entries {
		if at.After(c.last[sym]) {
			c.last[sym] = at
		}
	}
	return len(entries), nil
}

// RunState is everything the agent carries from one cycle to the next
type RunState struct {
	mu sync.RWMutex

	cycle      int64
	account    trading.AccountSnapshot
	sentiment  float64
	marketScan map[string]state.SymbolScan
	lastCycle  time.Time

	Positions *position.Store
	Blacklist *Blacklist
	Cooldowns *Cooldowns
}

// NewRunState creates the state with a neutral sentiment
func NewRunState(positions *position.Store, blacklist *Blacklist, cooldowns *Cooldowns) *RunState {
	return &RunState{
		sentiment:  0.5,
		marketScan: make(map[string]state.SymbolScan),
		Positions:  positions,
		Blacklist:  blacklist,
		Cooldowns:  cooldowns,
	}
}

// Cycle returns the number of the last started cycle
func (s *RunState) Cycle() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycle
}

func (s *RunState) nextCycle(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle++
	s.lastCycle = now
	return s.cycle
}

// Account returns a copy of the account snapshot
func (s *RunState) Account() trading.AccountSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// observeAccount folds a wallet reading in and returns the updated copy
func (s *RunState) observeAccount(wallet, available float64, now time.Time) trading.AccountSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.Observe(wallet, available, now)
	return s.account
}

// startSession seeds the initial balance and high-water mark
func (s *RunState) startSession(initial float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.InitialBalance = initial
	if initial > s.account.HighWaterMark {
		s.account.HighWaterMark = initial
	}
}

// Sentiment is the bullish share computed by the previous cycle
func (s *RunState) Sentiment() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sentiment
}

func (s *RunState) setScan(sentiment float64, scan map[string]state.SymbolScan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentiment = sentiment
	s.marketScan = scan
}

// MarketScan returns a copy of the last scan table
func (s *RunState) MarketScan() map[string]state.SymbolScan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]state.SymbolScan, len(s.marketScan))
	for sym, row := range s.marketScan {
		out[sym] = row
	}
	return out
}

// LastCycle is when the last cycle started
func (s *RunState) LastCycle() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle
}
