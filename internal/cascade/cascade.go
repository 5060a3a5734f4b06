// Package cascade selects the encryption provider values are protected with.
//
// Providers are ranked: a forced provider always wins, then the user's
// preference when it is ready, then the first ready provider of the automatic
// order. The choice is re-evaluated whenever a provider's readiness changes.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/metrics"
	"github.com/LeJamon/goDarkpool/internal/provider"
)

var (
	// ErrNoProviderAvailable is returned when no enabled provider is usable.
	ErrNoProviderAvailable = errors.New("no encryption provider available")
	// ErrProviderNotInitialized is returned when the provider an operation
	// needs has not been initialized.
	ErrProviderNotInitialized = errors.New("encryption provider not initialized")
	// ErrUnknownProvider is returned when an id names no registered provider.
	ErrUnknownProvider = errors.New("unknown encryption provider")
)

// SwitchEvent describes a change of the active provider.
type SwitchEvent struct {
	From   provider.ID
	To     provider.ID
	Reason string
	At     time.Time
}

// ProviderStatus is the state of one registered provider.
type ProviderStatus struct {
	ID           provider.ID
	Tier         provider.Tier
	Ready        bool
	Available    bool
	Confidential bool
	LastError    string
}

// Status is a snapshot of the cascade.
type Status struct {
	Active    provider.ID
	Forced    provider.ID
	Preferred provider.ID
	// Degraded is set when the active provider is not the strongest
	// registered one.
	Degraded bool
	// Confidential is false when values are not hidden from the ledger.
	Confidential bool
	Providers    []ProviderStatus
}

// Options configure a Cascade.
type Options struct {
	Force     provider.ID
	Preferred provider.ID
	Logger    *zap.Logger
	Metrics   metrics.Recorder
}

type entry struct {
	p           provider.Provider
	unavailable bool
	lastErr     error
}

// Cascade owns the registered providers and the active selection. It is safe
// for concurrent use.
type Cascade struct {
	logger  *zap.Logger
	metrics metrics.Recorder
	now     func() time.Time

	// order is the registration order sorted by automatic priority.
	order   []provider.ID
	entries map[provider.ID]*entry

	mu        sync.RWMutex
	forced    provider.ID
	preferred provider.ID
	active    provider.ID
	listeners []func(SwitchEvent)

	init singleflight.Group
}

// New registers providers. Providers are tried in the automatic order
// (mpc, tee, mpc-demo, plaintext); ids outside that order come last by tier.
func New(providers []provider.Provider, opts Options) (*Cascade, error) {
	c := &Cascade{
		logger:  logging.OrNop(opts.Logger).Named("cascade"),
		metrics: metrics.OrNop(opts.Metrics),
		now:     time.Now,
		entries: make(map[provider.ID]*entry, len(providers)),
	}
	for _, p := range providers {
		if _, dup := c.entries[p.ID()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.ID())
		}
		c.entries[p.ID()] = &entry{p: p}
		c.order = append(c.order, p.ID())
	}
	sort.SliceStable(c.order, func(i, j int) bool {
		return c.rank(c.order[i]) < c.rank(c.order[j])
	})

	for _, id := range []provider.ID{opts.Force, opts.Preferred} {
		if id != "" && c.entries[id] == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
		}
	}
	c.forced = opts.Force
	c.preferred = opts.Preferred
	c.reevaluate("configured")
	return c, nil
}

func (c *Cascade) rank(id provider.ID) int {
	for i, auto := range provider.AutoOrder {
		if id == auto {
			return i
		}
	}
	return len(provider.AutoOrder) + int(c.entries[id].p.Tier())
}

// Initialize initializes every registered provider concurrently. A failing
// provider is logged and recorded; it never prevents the others. Concurrent
// calls share one run. An error is returned only when no provider is usable
// afterwards.
func (c *Cascade) Initialize(ctx context.Context) error {
	_, err, _ := c.init.Do("initialize", func() (interface{}, error) {
		var g errgroup.Group
		for _, id := range c.order {
			e := c.entries[id]
			g.Go(func() error {
				err := e.p.Initialize(ctx)
				c.mu.Lock()
				e.lastErr = err
				if err == nil {
					e.unavailable = false
				}
				c.mu.Unlock()
				if err != nil {
					c.logger.Warn("provider initialization failed",
						zap.Stringer("provider", e.p.ID()), zap.Error(err))
				} else {
					c.logger.Info("provider initialized",
						zap.Stringer("provider", e.p.ID()), zap.Stringer("tier", e.p.Tier()))
				}
				return nil
			})
		}
		_ = g.Wait()

		c.reevaluate("initialized")
		if c.Active() == "" {
			return nil, ErrNoProviderAvailable
		}
		return nil, nil
	})
	return err
}

func (c *Cascade) usable(id provider.ID) bool {
	e := c.entries[id]
	return e != nil && !e.unavailable && e.p.Ready()
}

// selectLocked picks the active provider. c.mu must be held.
func (c *Cascade) selectLocked() provider.ID {
	if c.forced != "" {
		return c.forced
	}
	if c.preferred != "" && c.usable(c.preferred) {
		return c.preferred
	}
	for _, id := range c.order {
		if c.usable(id) {
			return id
		}
	}
	return ""
}

func (c *Cascade) reevaluate(reason string) {
	c.mu.Lock()
	prev := c.active
	next := c.selectLocked()
	c.active = next
	listeners := append([]func(SwitchEvent){}, c.listeners...)
	c.mu.Unlock()

	if prev == next {
		return
	}
	ev := SwitchEvent{From: prev, To: next, Reason: reason, At: c.now()}
	c.metrics.ProviderActive(string(next))
	c.metrics.ProviderSwitch(string(prev), string(next))
	if next == "" {
		c.logger.Warn("no encryption provider available", zap.Stringer("previous", prev), zap.String("reason", reason))
	} else {
		c.logger.Info("active provider changed",
			zap.Stringer("from", prev), zap.Stringer("to", next), zap.String("reason", reason))
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

// OnSwitch registers fn to be called after every change of the active
// provider.
func (c *Cascade) OnSwitch(fn func(SwitchEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// MarkUnavailable takes a provider out of selection until MarkReady.
func (c *Cascade) MarkUnavailable(id provider.ID, cause error) error {
	c.mu.Lock()
	e := c.entries[id]
	if e == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	e.unavailable = true
	if cause != nil {
		e.lastErr = cause
	}
	c.mu.Unlock()

	c.logger.Warn("provider marked unavailable", zap.Stringer("provider", id), zap.Error(cause))
	c.reevaluate(fmt.Sprintf("%s unavailable", id))
	return nil
}

// MarkReady returns a provider to selection. It is still only chosen while
// it reports Ready.
func (c *Cascade) MarkReady(id provider.ID) error {
	c.mu.Lock()
	e := c.entries[id]
	if e == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	e.unavailable = false
	c.mu.Unlock()

	c.reevaluate(fmt.Sprintf("%s ready", id))
	return nil
}

// SetForceOverride forces id regardless of readiness. An empty id clears the
// override.
func (c *Cascade) SetForceOverride(id provider.ID) error {
	if id != "" && c.entries[id] == nil {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	c.mu.Lock()
	c.forced = id
	c.mu.Unlock()
	c.reevaluate("force override")
	return nil
}

// SetPreference sets the provider used whenever it is ready. An empty id
// clears the preference.
func (c *Cascade) SetPreference(id provider.ID) error {
	if id != "" && c.entries[id] == nil {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	c.mu.Lock()
	c.preferred = id
	c.mu.Unlock()
	c.reevaluate("preference")
	return nil
}

// Active returns the active provider id, or "" when none is usable.
func (c *Cascade) Active() provider.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Provider returns the registered provider with id.
func (c *Cascade) Provider(id provider.ID) (provider.Provider, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.p, true
}

// Encrypt protects v with the active provider and returns its wire frame.
// When the active provider fails and was not forced, it is marked
// unavailable and the next provider is tried.
func (c *Cascade) Encrypt(ctx context.Context, v uint64) (codec.EncryptedValue, error) {
	for {
		c.mu.RLock()
		id, forced := c.active, c.forced
		c.mu.RUnlock()

		if id == "" {
			return codec.EncryptedValue{}, ErrNoProviderAvailable
		}
		p := c.entries[id].p
		if !p.Ready() {
			if forced != "" {
				return codec.EncryptedValue{}, fmt.Errorf("%w: %s", ErrProviderNotInitialized, id)
			}
			c.reevaluate(fmt.Sprintf("%s not ready", id))
			continue
		}

		payload, err := p.Encrypt(ctx, v)
		if err == nil {
			return codec.Encode(payload)
		}
		err = provider.Wrap(id, "encrypt", err)
		if forced != "" || ctx.Err() != nil {
			return codec.EncryptedValue{}, err
		}
		c.logger.Warn("provider failed, falling back", zap.Stringer("provider", id), zap.Error(err))
		_ = c.MarkUnavailable(id, err)
	}
}

// Decrypt recovers the value in ev using a provider that handles its
// format. It never returns a zero value in place of an error.
func (c *Cascade) Decrypt(ctx context.Context, ev codec.EncryptedValue) (uint64, error) {
	format := codec.DecodeFormat(ev)
	payload := codec.Decode(ev)

	var handlers, ready int
	var lastErr error
	for _, id := range c.order {
		p := c.entries[id].p
		if !p.Handles(format) {
			continue
		}
		handlers++
		if !p.Ready() {
			continue
		}
		ready++
		v, err := p.Decrypt(ctx, payload)
		if err == nil {
			return v, nil
		}
		lastErr = provider.Wrap(id, "decrypt", err)
		// Several sessions may handle the same format; only the owner of the
		// ciphertext can open it.
		if !errors.Is(err, provider.ErrForeignCiphertext) {
			return 0, lastErr
		}
	}

	switch {
	case handlers == 0:
		return 0, fmt.Errorf("%w: no provider handles %s values", ErrNoProviderAvailable, format)
	case ready == 0:
		return 0, fmt.Errorf("%w: %s values", ErrProviderNotInitialized, format)
	default:
		return 0, lastErr
	}
}

// Status returns a snapshot of the cascade.
func (c *Cascade) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Active:    c.active,
		Forced:    c.forced,
		Preferred: c.preferred,
	}
	strongest := provider.ID("")
	if len(c.order) > 0 {
		strongest = c.order[0]
	}
	s.Degraded = c.active != strongest
	if e := c.entries[c.active]; e != nil {
		s.Confidential = e.p.Confidential()
	}

	for _, id := range c.order {
		e := c.entries[id]
		ps := ProviderStatus{
			ID:           id,
			Tier:         e.p.Tier(),
			Ready:        e.p.Ready(),
			Available:    !e.unavailable,
			Confidential: e.p.Confidential(),
		}
		if e.lastErr != nil {
			ps.LastError = e.lastErr.Error()
		}
		s.Providers = append(s.Providers, ps)
	}
	return s
}
