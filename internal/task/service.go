// Package task is the command and read surface the UI drives: create and
// complete tasks, undo, favorites, and the cached derived views (task list,
// history, points, top tasks). Writes go through the sync engine; reads go
// through the query cache with the mirror as the offline fallback.
package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/mirror"
	"github.com/florianbuchner/whodoes/internal/model"
	"github.com/florianbuchner/whodoes/internal/points"
	"github.com/florianbuchner/whodoes/internal/remote"
	"github.com/florianbuchner/whodoes/internal/session"
	"github.com/florianbuchner/whodoes/internal/syncer"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskDeleted  = errors.New("task is deleted")
	ErrEmptyName    = errors.New("task name must not be empty")
	ErrBadPoints    = errors.New("task points must be at least 1")
	ErrNoPartner    = errors.New("no current partner selected")
)

// HistoryEntry is one completion joined with display names for the history view.
type HistoryEntry struct {
	model.TaskCompletion
	TaskName    string `json:"task_name"`
	PartnerName string `json:"partner_name"`
}

type Service struct {
	engine *syncer.Engine
	mirror *mirror.Store
	cache  *cache.Cache
	gw     remote.Gateway
	sess   session.Session
	log    *slog.Logger
}

// NewService binds the command surface to one household session.
func NewService(e *syncer.Engine, m *mirror.Store, c *cache.Cache, gw remote.Gateway, sess session.Session, log *slog.Logger) *Service {
	return &Service{engine: e, mirror: m, cache: c, gw: gw, sess: sess, log: log}
}

// --- Commands ---

// CreateTask adds a chore worth the given points. Works offline: the row is
// queued and the call succeeds optimistically.
func (s *Service) CreateTask(ctx context.Context, name string, taskPoints int) (model.Task, error) {
	if name == "" {
		return model.Task{}, ErrEmptyName
	}
	if taskPoints < 1 {
		return model.Task{}, ErrBadPoints
	}
	return s.engine.SendTask(ctx, model.Task{
		HouseholdID: s.sess.HouseholdID,
		Name:        name,
		Points:      taskPoints,
	})
}

// CompleteTask records the current partner finishing a task, snapshotting the
// task's points into points_earned. The snapshot is never recomputed.
func (s *Service) CompleteTask(ctx context.Context, taskID string) (model.TaskCompletion, error) {
	if s.sess.PartnerID == "" {
		return model.TaskCompletion{}, ErrNoPartner
	}
	t, err := s.mirror.GetTask(taskID)
	if err != nil {
		return model.TaskCompletion{}, err
	}
	if t == nil {
		return model.TaskCompletion{}, ErrTaskNotFound
	}
	if t.IsDeleted {
		return model.TaskCompletion{}, ErrTaskDeleted
	}
	return s.engine.SendCompletion(ctx, model.TaskCompletion{
		TaskID:       t.ID,
		PartnerID:    s.sess.PartnerID,
		PointsEarned: t.Points,
		CompletedAt:  time.Now().UTC(),
	})
}

// UndoCompletion hard-deletes a completion.
func (s *Service) UndoCompletion(ctx context.Context, completionID string) error {
	return s.engine.RemoveCompletion(ctx, completionID)
}

// UpdateTask renames or re-prices an already-synced task. Online only.
func (s *Service) UpdateTask(ctx context.Context, taskID, name string, taskPoints int) (model.Task, error) {
	if name == "" {
		return model.Task{}, ErrEmptyName
	}
	if taskPoints < 1 {
		return model.Task{}, ErrBadPoints
	}
	return s.engine.UpdateTask(ctx, taskID, map[string]any{
		"name":   name,
		"points": taskPoints,
	})
}

// DeleteTask soft-deletes a task; its completions stay in history and totals.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	return s.engine.SoftDeleteTask(ctx, taskID)
}

// ToggleFavorite pins or unpins a task for the current partner, returning the
// new favorite state.
func (s *Service) ToggleFavorite(ctx context.Context, taskID string) (bool, error) {
	if s.sess.PartnerID == "" {
		return false, ErrNoPartner
	}
	existing, err := s.mirror.GetFavorite(s.sess.PartnerID, taskID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, s.engine.RemoveFavorite(ctx, s.sess.PartnerID, taskID)
	}
	_, err = s.engine.SendFavorite(ctx, model.Favorite{
		PartnerID: s.sess.PartnerID,
		TaskID:    taskID,
	})
	return err == nil, err
}

// --- Cached reads ---

// ActiveTasks returns the household's live task list: remote when reachable
// (refreshing the mirror), mirror otherwise.
func (s *Service) ActiveTasks(ctx context.Context) ([]model.Task, error) {
	key := cache.Key(cache.FamilyTasks, s.sess.HouseholdID, "active")
	res, err := s.cache.Read(ctx, key, func(ctx context.Context) (any, error) {
		s.refreshTasks(ctx)
		return s.mirror.ActiveTasks(s.sess.HouseholdID)
	})
	tasks, _ := res.Value.([]model.Task)
	return tasks, err
}

// Partners returns both household members.
func (s *Service) Partners(ctx context.Context) ([]model.Partner, error) {
	key := cache.Key(cache.FamilyPartners, s.sess.HouseholdID)
	res, err := s.cache.Read(ctx, key, func(ctx context.Context) (any, error) {
		s.refreshPartners(ctx)
		return s.mirror.Partners(s.sess.HouseholdID)
	})
	partners, _ := res.Value.([]model.Partner)
	return partners, err
}

// History lists the window's completions joined with task and partner names,
// newest first. Completions whose task row is gone entirely are skipped.
func (s *Service) History(ctx context.Context, kind points.WindowKind) ([]HistoryEntry, error) {
	key := cache.Key(cache.FamilyCompletions, s.sess.HouseholdID, "history", string(kind))
	res, err := s.cache.Read(ctx, key, func(ctx context.Context) (any, error) {
		s.refreshCompletions(ctx)
		return s.buildHistory(kind)
	})
	entries, _ := res.Value.([]HistoryEntry)
	return entries, err
}

// Points returns the per-partner scoreboard for the window. Every partner
// appears, including those with zero completions.
func (s *Service) Points(ctx context.Context, kind points.WindowKind) ([]points.PartnerPoints, error) {
	key := cache.Key(cache.FamilyPoints, s.sess.HouseholdID, string(kind))
	res, err := s.cache.Read(ctx, key, func(ctx context.Context) (any, error) {
		s.refreshCompletions(ctx)
		w := points.WindowFor(kind, time.Now())
		completions, err := s.mirror.CompletionsInRange(w.Start, w.End)
		if err != nil {
			return nil, err
		}
		partners, err := s.mirror.Partners(s.sess.HouseholdID)
		if err != nil {
			return nil, err
		}
		return points.ComputePoints(completions, partners, w), nil
	})
	totals, _ := res.Value.([]points.PartnerPoints)
	return totals, err
}

// TopTasks ranks the window's tasks by total points earned.
func (s *Service) TopTasks(ctx context.Context, kind points.WindowKind) ([]points.TaskRank, error) {
	key := cache.Key(cache.FamilyPoints, s.sess.HouseholdID, "top", string(kind))
	res, err := s.cache.Read(ctx, key, func(ctx context.Context) (any, error) {
		s.refreshCompletions(ctx)
		w := points.WindowFor(kind, time.Now())
		completions, err := s.mirror.CompletionsInRange(w.Start, w.End)
		if err != nil {
			return nil, err
		}
		byID, err := s.mirror.TasksByID(s.sess.HouseholdID)
		if err != nil {
			return nil, err
		}
		tasks := make([]model.Task, 0, len(byID))
		for _, t := range byID {
			tasks = append(tasks, t)
		}
		return points.ComputeTopTasks(completions, tasks, w, points.DefaultTopTaskLimit), nil
	})
	ranks, _ := res.Value.([]points.TaskRank)
	return ranks, err
}

// Favorites returns the current partner's favorited task ids.
func (s *Service) Favorites(ctx context.Context) (map[string]bool, error) {
	key := cache.Key(cache.FamilyFavorites, s.sess.HouseholdID, s.sess.PartnerID)
	res, err := s.cache.Read(ctx, key, func(ctx context.Context) (any, error) {
		return s.mirror.FavoriteTaskIDs(s.sess.PartnerID)
	})
	ids, _ := res.Value.(map[string]bool)
	return ids, err
}

// --- Mirror refresh (cache-replace on fresher reads) ---

// refreshTasks pulls the household's tasks from the remote store into the
// mirror. Failures are logged, not surfaced: reads fall back to the mirror.
func (s *Service) refreshTasks(ctx context.Context) {
	var rows []model.Task
	err := s.gw.Select(ctx, remote.TableTasks,
		remote.Filter{"household_id": s.sess.HouseholdID}, "name.asc", &rows)
	if err != nil {
		s.log.Debug("task refresh skipped", "error", err)
		return
	}
	if err := s.mirror.ReplaceTasks(s.sess.HouseholdID, rows); err != nil {
		s.log.Error("replace tasks in mirror", "error", err)
	}
}

func (s *Service) refreshPartners(ctx context.Context) {
	var rows []model.Partner
	err := s.gw.Select(ctx, remote.TablePartners,
		remote.Filter{"household_id": s.sess.HouseholdID}, "created_at.asc", &rows)
	if err != nil {
		s.log.Debug("partner refresh skipped", "error", err)
		return
	}
	if err := s.mirror.ReplacePartners(s.sess.HouseholdID, rows); err != nil {
		s.log.Error("replace partners in mirror", "error", err)
	}
}

// refreshCompletions pulls completions from the remote store. The table has
// no household column; the remote access policy scopes what this device sees.
func (s *Service) refreshCompletions(ctx context.Context) {
	var rows []model.TaskCompletion
	err := s.gw.Select(ctx, remote.TableCompletions, nil, "completed_at.desc", &rows)
	if err != nil {
		s.log.Debug("completion refresh skipped", "error", err)
		return
	}
	if err := s.mirror.ReplaceCompletions(rows); err != nil {
		s.log.Error("replace completions in mirror", "error", err)
	}
}

func (s *Service) buildHistory(kind points.WindowKind) ([]HistoryEntry, error) {
	w := points.WindowFor(kind, time.Now())
	completions, err := s.mirror.CompletionsInRange(w.Start, w.End)
	if err != nil {
		return nil, err
	}
	tasks, err := s.mirror.TasksByID(s.sess.HouseholdID)
	if err != nil {
		return nil, err
	}
	partners, err := s.mirror.Partners(s.sess.HouseholdID)
	if err != nil {
		return nil, err
	}
	partnerNames := make(map[string]string, len(partners))
	for _, p := range partners {
		partnerNames[p.ID] = p.Name
	}

	entries := make([]HistoryEntry, 0, len(completions))
	for _, c := range completions {
		t, ok := tasks[c.TaskID]
		if !ok {
			// Task row hard-deleted; nothing to join against.
			continue
		}
		entries = append(entries, HistoryEntry{
			TaskCompletion: c,
			TaskName:       t.Name,
			PartnerName:    partnerNames[c.PartnerID],
		})
	}
	return entries, nil
}
