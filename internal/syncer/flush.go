package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/remote"
)

// Flush replays every queued row to the remote store, in creation order per
// table, parents before children (tasks and partners before completions). It
// is a best-effort sweep: a failing row is logged and left queued for the next
// connectivity-restored event; it never blocks the rest of the queue. Rows
// already marked synced are never replayed. Sweeps serialize against each
// other, but the queue mutex is released around each send so concurrent
// writes and undos proceed while a row is retrying.
func (e *Engine) Flush(ctx context.Context) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	start := time.Now().UTC()
	var lastErr string

	record := func(err error) {
		if err != nil {
			lastErr = err.Error()
		}
	}

	record(e.flushTasks(ctx))
	record(e.flushPartners(ctx))
	record(e.flushCompletions(ctx))
	record(e.flushFavorites(ctx))

	e.refreshPending()
	e.setLastFlush(start, lastErr)
}

func (e *Engine) flushTasks(ctx context.Context) error {
	e.mu.Lock()
	rows, err := e.mirror.UnsyncedTasks()
	e.mu.Unlock()
	if err != nil {
		e.log.Error("read task queue", "error", err)
		return err
	}

	var lastErr error
	for _, t := range rows {
		e.mu.Lock()
		cur, err := e.mirror.GetTask(t.ID)
		e.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}
		if cur == nil || cur.Synced {
			// Removed or delivered since the snapshot.
			continue
		}
		if err := e.flushRow(ctx, remote.TableTasks, t.ID, cur.Task); err != nil {
			lastErr = err
			continue
		}
		e.mu.Lock()
		err = e.mirror.MarkTaskSynced(t.ID)
		e.mu.Unlock()
		if err != nil {
			e.log.Error("mark task synced", "id", t.ID, "error", err)
			lastErr = err
			continue
		}
		e.invalidate(cache.FamilyTasks, cache.FamilyPoints)
	}
	return lastErr
}

func (e *Engine) flushPartners(ctx context.Context) error {
	e.mu.Lock()
	rows, err := e.mirror.UnsyncedPartners()
	e.mu.Unlock()
	if err != nil {
		e.log.Error("read partner queue", "error", err)
		return err
	}

	var lastErr error
	for _, p := range rows {
		e.mu.Lock()
		cur, err := e.mirror.GetPartner(p.ID)
		e.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}
		if cur == nil || cur.Synced {
			continue
		}
		if err := e.flushRow(ctx, remote.TablePartners, p.ID, cur.Partner); err != nil {
			lastErr = err
			continue
		}
		e.mu.Lock()
		err = e.mirror.MarkPartnerSynced(p.ID)
		e.mu.Unlock()
		if err != nil {
			e.log.Error("mark partner synced", "id", p.ID, "error", err)
			lastErr = err
			continue
		}
		e.invalidate(cache.FamilyPartners, cache.FamilyPoints)
	}
	return lastErr
}

func (e *Engine) flushCompletions(ctx context.Context) error {
	e.mu.Lock()
	rows, err := e.mirror.UnsyncedCompletions()
	e.mu.Unlock()
	if err != nil {
		e.log.Error("read completion queue", "error", err)
		return err
	}

	var lastErr error
	for _, c := range rows {
		e.mu.Lock()
		cur, err := e.mirror.GetCompletion(c.ID)
		e.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}
		if cur == nil || cur.Synced {
			// Undone or delivered since the snapshot.
			continue
		}
		if err := e.flushRow(ctx, remote.TableCompletions, c.ID, cur.TaskCompletion); err != nil {
			lastErr = err
			continue
		}
		e.mu.Lock()
		err = e.mirror.MarkCompletionSynced(c.ID)
		e.mu.Unlock()
		if err != nil {
			e.log.Error("mark completion synced", "id", c.ID, "error", err)
			lastErr = err
			continue
		}
		e.invalidate(cache.FamilyCompletions, cache.FamilyPoints)
	}
	return lastErr
}

func (e *Engine) flushFavorites(ctx context.Context) error {
	e.mu.Lock()
	rows, err := e.mirror.UnsyncedFavorites()
	e.mu.Unlock()
	if err != nil {
		e.log.Error("read favorite queue", "error", err)
		return err
	}

	var lastErr error
	for _, f := range rows {
		e.mu.Lock()
		cur, err := e.mirror.GetFavorite(f.PartnerID, f.TaskID)
		e.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}
		if cur == nil || cur.Synced {
			continue
		}
		if err := e.flushRow(ctx, remote.TableFavorites, cur.ID, cur.Favorite); err != nil {
			lastErr = err
			continue
		}
		e.mu.Lock()
		err = e.mirror.MarkFavoriteSynced(cur.ID)
		e.mu.Unlock()
		if err != nil {
			e.log.Error("mark favorite synced", "id", cur.ID, "error", err)
			lastErr = err
			continue
		}
		e.invalidate(cache.FamilyFavorites)
	}
	return lastErr
}

// flushRow replays one queued row. A conflict on the row's id means an
// earlier flush attempt reached the server but the ack was lost, so the row
// is treated as delivered.
func (e *Engine) flushRow(ctx context.Context, table, id string, row any) error {
	err := e.sendWithRetry(ctx, table, row)
	if err == nil {
		return nil
	}

	var conflict *remote.ConflictError
	if errors.As(err, &conflict) {
		e.log.Debug("row already delivered", "table", table, "id", id)
		return nil
	}

	e.log.Warn("flush row failed, keeping queued", "table", table, "id", id, "error", err)
	return err
}
