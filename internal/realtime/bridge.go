// Package realtime keeps the query cache honest while the other partner is
// writing. It holds one long-lived change-feed subscription per household and
// turns every change notification into a cache invalidation, including echoes
// of this device's own writes (invalidation is idempotent, so no distinction
// is needed).
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/remote"
)

// State is the bridge's subscription lifecycle.
type State string

const (
	StateUnsubscribed State = "unsubscribed"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
)

const (
	eventBufferSize = 64
	reconnectBase   = time.Second
	reconnectMax    = 60 * time.Second
)

// ChangeEvent is one row change pushed by the backend's feed.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// Config holds the change-feed endpoint settings.
type Config struct {
	URL   string // websocket endpoint, e.g. wss://example.app/realtime/v1
	Token string
}

// Bridge owns the subscription. Exactly one is active per session; calling
// Subscribe again tears the previous one down first.
type Bridge struct {
	cfg   Config
	cache *cache.Cache
	log   *slog.Logger

	mu          sync.RWMutex
	state       State
	householdID string
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewBridge(cfg Config, c *cache.Cache, log *slog.Logger) *Bridge {
	return &Bridge{
		cfg:   cfg,
		cache: c,
		log:   log,
		state: StateUnsubscribed,
	}
}

// State returns the current subscription state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Subscribe starts listening to the household's change feed. Delivery runs
// through a bounded channel drained by a single invalidator goroutine, so
// network reads never mutate the cache directly.
func (b *Bridge) Subscribe(ctx context.Context, householdID string) {
	b.Unsubscribe()

	b.mu.Lock()
	ctx, b.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	b.done = done
	b.householdID = householdID
	b.state = StateConnecting
	b.mu.Unlock()

	events := make(chan ChangeEvent, eventBufferSize)

	go b.invalidator(events, householdID, done)
	go b.run(ctx, householdID, events)
}

// Unsubscribe tears the subscription down and waits for the invalidator to
// drain, so no invalidation races a later re-subscribe.
func (b *Bridge) Unsubscribe() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	b.done = nil
	b.state = StateUnsubscribed
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// run dials and reads the feed, reconnecting with exponential backoff until
// the subscription context is cancelled. It closes events on exit.
func (b *Bridge) run(ctx context.Context, householdID string, events chan<- ChangeEvent) {
	defer close(events)

	backoff := reconnectBase
	for {
		err := b.runOnce(ctx, householdID, events)

		select {
		case <-ctx.Done():
			return
		default:
		}

		b.setState(StateReconnecting)
		b.log.Info("change feed disconnected, reconnecting",
			"household", householdID, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (b *Bridge) runOnce(ctx context.Context, householdID string, events chan<- ChangeEvent) error {
	feedURL := b.cfg.URL + "?household_id=" + url.QueryEscape(householdID)

	var opts *ws.DialOptions
	if b.cfg.Token != "" {
		opts = &ws.DialOptions{
			HTTPHeader: http.Header{"Authorization": {"Bearer " + b.cfg.Token}},
		}
	}
	conn, _, err := ws.Dial(ctx, feedURL, opts)
	if err != nil {
		return err
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	b.setState(StateSubscribed)
	b.log.Info("change feed subscribed", "household", householdID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			b.log.Warn("malformed change event", "error", err)
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// invalidator is the single consumer of the event channel. It maps tables to
// cache key families; completion events also stale the points views because
// completions feed the scoreboards.
func (b *Bridge) invalidator(events <-chan ChangeEvent, householdID string, done chan struct{}) {
	defer close(done)
	for ev := range events {
		b.handleEvent(householdID, ev)
	}
}

func (b *Bridge) handleEvent(householdID string, ev ChangeEvent) {
	switch ev.Table {
	case remote.TableTasks:
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyTasks, householdID))
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyPoints, householdID))
	case remote.TableCompletions:
		// Completions carry no household id; over-invalidating is safe
		// because recompute is idempotent and scoped by the read itself.
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyCompletions, householdID))
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyPoints, householdID))
	case remote.TablePartners:
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyPartners, householdID))
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyPoints, householdID))
	case remote.TableFavorites:
		b.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyFavorites, householdID))
	default:
		b.log.Debug("ignoring change event", "table", ev.Table, "action", ev.Action)
	}
}
