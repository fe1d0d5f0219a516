// Package syncer owns the write path between the device and the remote store.
// Writes go remote-first; when the network is down they land in the mirror
// with synced=false and are replayed, in creation order, by Flush once
// connectivity returns.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/mirror"
	"github.com/florianbuchner/whodoes/internal/model"
	"github.com/florianbuchner/whodoes/internal/remote"
)

const (
	flushBackoffBase = time.Second
	flushBackoffCap  = 30 * time.Second
	flushMaxAttempts = 5
)

// Status is the user-visible sync state: how many rows are still queued and
// how the last flush went.
type Status struct {
	Online    bool      `json:"online"`
	Pending   int       `json:"pending"`
	LastFlush time.Time `json:"last_flush,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Engine serializes queue mutations behind a mutex, but flush replay and its
// backoff sleeps run outside it: a retrying flush never stalls a user write.
// Each row is re-checked against the queue around its send instead.
type Engine struct {
	mirror      *mirror.Store
	gw          remote.Gateway
	cache       *cache.Cache
	householdID string
	log         *slog.Logger

	mu      sync.Mutex // guards queue mutations, never held while sending
	flushMu sync.Mutex // serializes flush sweeps against each other

	stMu sync.RWMutex
	st   Status

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine bound to one household session.
func NewEngine(m *mirror.Store, gw remote.Gateway, c *cache.Cache, householdID string, log *slog.Logger) *Engine {
	return &Engine{
		mirror:      m,
		gw:          gw,
		cache:       c,
		householdID: householdID,
		log:         log,
	}
}

// SendTask attempts an immediate remote insert of a new task. Offline, the
// task is queued locally and the call still succeeds (optimistic write).
// Server rejections are surfaced and nothing is stored.
func (e *Engine) SendTask(ctx context.Context, t model.Task) (model.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stampTask(&t)
	var saved model.Task
	err := e.gw.Insert(ctx, remote.TableTasks, t, &saved)
	switch {
	case err == nil:
		if perr := e.mirror.PutTask(saved, true); perr != nil {
			return model.Task{}, perr
		}
		e.invalidate(cache.FamilyTasks, cache.FamilyPoints)
		return saved, nil
	case remote.IsConnectivity(err):
		if perr := e.mirror.PutTask(t, false); perr != nil {
			return model.Task{}, perr
		}
		e.log.Info("queued task offline", "id", t.ID, "name", t.Name)
		e.invalidate(cache.FamilyTasks, cache.FamilyPoints)
		e.refreshPending()
		return t, nil
	default:
		return model.Task{}, err
	}
}

// SendCompletion records a task completion, remote-first with offline queueing.
// PointsEarned must already carry the snapshot of the task's points.
func (e *Engine) SendCompletion(ctx context.Context, c model.TaskCompletion) (model.TaskCompletion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stampCompletion(&c)
	var saved model.TaskCompletion
	err := e.gw.Insert(ctx, remote.TableCompletions, c, &saved)
	switch {
	case err == nil:
		if perr := e.mirror.PutCompletion(saved, true); perr != nil {
			return model.TaskCompletion{}, perr
		}
		e.invalidate(cache.FamilyCompletions, cache.FamilyPoints)
		return saved, nil
	case remote.IsConnectivity(err):
		if perr := e.mirror.PutCompletion(c, false); perr != nil {
			return model.TaskCompletion{}, perr
		}
		e.log.Info("queued completion offline", "id", c.ID, "task", c.TaskID)
		e.invalidate(cache.FamilyCompletions, cache.FamilyPoints)
		e.refreshPending()
		return c, nil
	default:
		return model.TaskCompletion{}, err
	}
}

// SendPartner creates a partner, remote-first with offline queueing.
func (e *Engine) SendPartner(ctx context.Context, p model.Partner) (model.Partner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stampPartner(&p)
	var saved model.Partner
	err := e.gw.Insert(ctx, remote.TablePartners, p, &saved)
	switch {
	case err == nil:
		if perr := e.mirror.PutPartner(saved, true); perr != nil {
			return model.Partner{}, perr
		}
		e.invalidate(cache.FamilyPartners, cache.FamilyPoints)
		return saved, nil
	case remote.IsConnectivity(err):
		if perr := e.mirror.PutPartner(p, false); perr != nil {
			return model.Partner{}, perr
		}
		e.log.Info("queued partner offline", "id", p.ID, "name", p.Name)
		e.invalidate(cache.FamilyPartners, cache.FamilyPoints)
		e.refreshPending()
		return p, nil
	default:
		return model.Partner{}, err
	}
}

// SendFavorite pins a task for a partner, remote-first with offline queueing.
func (e *Engine) SendFavorite(ctx context.Context, f model.Favorite) (model.Favorite, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stampFavorite(&f)
	var saved model.Favorite
	err := e.gw.Insert(ctx, remote.TableFavorites, f, &saved)
	switch {
	case err == nil:
		if perr := e.mirror.PutFavorite(saved, true); perr != nil {
			return model.Favorite{}, perr
		}
		e.invalidate(cache.FamilyFavorites)
		return saved, nil
	case remote.IsConnectivity(err):
		if perr := e.mirror.PutFavorite(f, false); perr != nil {
			return model.Favorite{}, perr
		}
		e.invalidate(cache.FamilyFavorites)
		e.refreshPending()
		return f, nil
	default:
		return model.Favorite{}, err
	}
}

// RemoveCompletion undoes a completion. A synced row is deleted remotely
// first (online-only operation); an unsynced row simply leaves the queue
// before it was ever flushed.
func (e *Engine) RemoveCompletion(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, err := e.mirror.GetCompletion(id)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if row.Synced {
		if err := e.gw.Delete(ctx, remote.TableCompletions, id); err != nil {
			return err
		}
	}
	if err := e.mirror.DeleteCompletion(id); err != nil {
		return err
	}
	e.invalidate(cache.FamilyCompletions, cache.FamilyPoints)
	e.refreshPending()
	return nil
}

// RemoveFavorite unpins a task for a partner.
func (e *Engine) RemoveFavorite(ctx context.Context, partnerID, taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, err := e.mirror.GetFavorite(partnerID, taskID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if row.Synced {
		if err := e.gw.Delete(ctx, remote.TableFavorites, row.ID); err != nil {
			return err
		}
	}
	if err := e.mirror.DeleteFavorite(row.ID); err != nil {
		return err
	}
	e.invalidate(cache.FamilyFavorites)
	return nil
}

// UpdateTask edits an already-synced task remotely and mirrors the result.
// Editing synced records offline is not supported, so connectivity failures
// surface rather than queue.
func (e *Engine) UpdateTask(ctx context.Context, id string, patch map[string]any) (model.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var saved model.Task
	if err := e.gw.Update(ctx, remote.TableTasks, id, patch, &saved); err != nil {
		return model.Task{}, err
	}
	if err := e.mirror.PutTask(saved, true); err != nil {
		return model.Task{}, err
	}
	e.invalidate(cache.FamilyTasks, cache.FamilyPoints)
	return saved, nil
}

// SoftDeleteTask flags a task deleted, keeping its row for historical joins.
func (e *Engine) SoftDeleteTask(ctx context.Context, id string) error {
	_, err := e.UpdateTask(ctx, id, map[string]any{"is_deleted": true})
	return err
}

// Status reports the current sync state.
func (e *Engine) Status() Status {
	e.stMu.RLock()
	defer e.stMu.RUnlock()
	return e.st
}

func (e *Engine) invalidate(families ...string) {
	for _, family := range families {
		e.cache.InvalidatePrefix(cache.FamilyKey(family, e.householdID))
	}
}

// refreshPending recounts queued rows.
func (e *Engine) refreshPending() {
	pending, err := e.mirror.UnsyncedCount()
	if err != nil {
		e.log.Error("count unsynced rows", "error", err)
		return
	}
	e.stMu.Lock()
	e.st.Pending = pending
	e.stMu.Unlock()
}

func (e *Engine) setLastFlush(at time.Time, lastErr string) {
	e.stMu.Lock()
	e.st.LastFlush = at
	e.st.LastError = lastErr
	e.stMu.Unlock()
}

func (e *Engine) setOnline(online bool) {
	e.stMu.Lock()
	e.st.Online = online
	e.stMu.Unlock()
}

func stampTask(t *model.Task) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

func stampCompletion(c *model.TaskCompletion) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CompletedAt.IsZero() {
		c.CompletedAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
}

func stampPartner(p *model.Partner) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
}

func stampFavorite(f *model.Favorite) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
}

// sendWithRetry replays one queued row with exponential backoff. Only
// connectivity failures are retried; definitive server answers return
// immediately.
func (e *Engine) sendWithRetry(ctx context.Context, table string, row any) error {
	backoff := retry.WithMaxRetries(flushMaxAttempts-1, retry.NewExponential(flushBackoffBase))
	backoff = retry.WithCappedDuration(flushBackoffCap, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.gw.Insert(ctx, table, row, nil)
		if err == nil {
			return nil
		}
		if remote.IsConnectivity(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
