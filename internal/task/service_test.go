package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/database"
	"github.com/florianbuchner/whodoes/internal/mirror"
	"github.com/florianbuchner/whodoes/internal/model"
	"github.com/florianbuchner/whodoes/internal/points"
	"github.com/florianbuchner/whodoes/internal/remote"
	"github.com/florianbuchner/whodoes/internal/session"
	"github.com/florianbuchner/whodoes/internal/syncer"
)

// fakeGateway echoes inserts and serves canned Select rows per table. Tables
// without canned rows answer with a connectivity error, which pushes reads
// onto the mirror fallback.
type fakeGateway struct {
	mu      sync.Mutex
	offline bool
	rows    map[string]map[string]any
	selects map[string]any
	deletes []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rows:    make(map[string]map[string]any),
		selects: make(map[string]any),
	}
}

func (g *fakeGateway) setOffline(offline bool) {
	g.mu.Lock()
	g.offline = offline
	g.mu.Unlock()
}

func (g *fakeGateway) connErr(op string) error {
	return &remote.ConnectivityError{Op: op, Err: errors.New("connection refused")}
}

func (g *fakeGateway) Insert(ctx context.Context, table string, row, dest any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline {
		return g.connErr("POST " + table)
	}
	data, _ := json.Marshal(row)
	stored := map[string]any{}
	json.Unmarshal(data, &stored)
	if id, ok := stored["id"].(string); ok {
		g.rows[table+"/"+id] = stored
	}
	if dest != nil {
		return json.Unmarshal(data, dest)
	}
	return nil
}

func (g *fakeGateway) Update(ctx context.Context, table, id string, patch, dest any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline {
		return g.connErr("PATCH " + table)
	}
	merged := map[string]any{}
	for k, v := range g.rows[table+"/"+id] {
		merged[k] = v
	}
	data, _ := json.Marshal(patch)
	json.Unmarshal(data, &merged)
	merged["id"] = id
	g.rows[table+"/"+id] = merged
	if dest != nil {
		data, _ = json.Marshal(merged)
		return json.Unmarshal(data, dest)
	}
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, table, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline {
		return g.connErr("DELETE " + table)
	}
	g.deletes = append(g.deletes, id)
	return nil
}

func (g *fakeGateway) Select(ctx context.Context, table string, filter remote.Filter, order string, dest any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline {
		return g.connErr("GET " + table)
	}
	rows, ok := g.selects[table]
	if !ok {
		return g.connErr("GET " + table)
	}
	data, _ := json.Marshal(rows)
	return json.Unmarshal(data, dest)
}

func (g *fakeGateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline {
		return g.connErr("ping")
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *mirror.Store, *fakeGateway) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "task.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := mirror.NewStore(db)
	gw := newFakeGateway()
	c := cache.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := syncer.NewEngine(m, gw, c, "hh-1", log)
	sess := session.Session{HouseholdID: "hh-1", HouseholdCode: "AB12CD", PartnerID: "partner-1"}
	return NewService(engine, m, c, gw, sess, log), m, gw
}

func TestCreateTaskValidation(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, "", 3); !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty name err = %v, want ErrEmptyName", err)
	}
	if _, err := s.CreateTask(ctx, "Vacuum", 0); !errors.Is(err, ErrBadPoints) {
		t.Errorf("zero points err = %v, want ErrBadPoints", err)
	}
}

func TestCompleteTaskSnapshotsPoints(t *testing.T) {
	s, m, _ := newTestService(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "Vacuum", 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	first, err := s.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if first.PointsEarned != 3 {
		t.Errorf("points earned = %d, want the 3-point snapshot", first.PointsEarned)
	}
	if first.PartnerID != "partner-1" {
		t.Errorf("partner = %q, want the session partner", first.PartnerID)
	}

	// Re-pricing the task must not touch the earlier snapshot.
	if _, err := s.UpdateTask(ctx, task.ID, "Vacuum", 5); err != nil {
		t.Fatalf("update task: %v", err)
	}
	second, err := s.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete task again: %v", err)
	}
	if second.PointsEarned != 5 {
		t.Errorf("new completion = %d points, want 5", second.PointsEarned)
	}

	stored, err := m.GetCompletion(first.ID)
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}
	if stored.PointsEarned != 3 {
		t.Errorf("old snapshot = %d, want 3 unchanged", stored.PointsEarned)
	}
}

func TestCompleteTaskGuards(t *testing.T) {
	s, m, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.CompleteTask(ctx, "no-such-task"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown task err = %v, want ErrTaskNotFound", err)
	}

	gone := model.Task{ID: "task-gone", HouseholdID: "hh-1", Name: "Old", Points: 2, IsDeleted: true}
	if err := m.PutTask(gone, true); err != nil {
		t.Fatalf("put task: %v", err)
	}
	if _, err := s.CompleteTask(ctx, "task-gone"); !errors.Is(err, ErrTaskDeleted) {
		t.Errorf("deleted task err = %v, want ErrTaskDeleted", err)
	}
}

func TestCompleteTaskRequiresPartner(t *testing.T) {
	s, _, _ := newTestService(t)
	s.sess.PartnerID = ""

	if _, err := s.CompleteTask(context.Background(), "task-1"); !errors.Is(err, ErrNoPartner) {
		t.Errorf("err = %v, want ErrNoPartner", err)
	}
}

func TestUndoCompletion(t *testing.T) {
	s, m, _ := newTestService(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "Vacuum", 3)
	c, err := s.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}

	if err := s.UndoCompletion(ctx, c.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if row, _ := m.GetCompletion(c.ID); row != nil {
		t.Error("completion should be gone after undo")
	}
}

func TestToggleFavorite(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "Vacuum", 3)

	on, err := s.ToggleFavorite(ctx, task.ID)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !on {
		t.Error("first toggle should pin the task")
	}

	favs, err := s.Favorites(ctx)
	if err != nil {
		t.Fatalf("favorites: %v", err)
	}
	if !favs[task.ID] {
		t.Error("favorites should contain the pinned task")
	}

	off, err := s.ToggleFavorite(ctx, task.ID)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if off {
		t.Error("second toggle should unpin the task")
	}

	favs, err = s.Favorites(ctx)
	if err != nil {
		t.Fatalf("favorites after unpin: %v", err)
	}
	if favs[task.ID] {
		t.Error("favorites should no longer contain the task")
	}
}

func TestActiveTasksOfflineFallsBackToMirror(t *testing.T) {
	s, _, gw := newTestService(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "Vacuum", 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	gw.setOffline(true)
	tasks, err := s.ActiveTasks(ctx)
	if err != nil {
		t.Fatalf("active tasks offline: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Errorf("tasks = %+v, want the mirrored row", tasks)
	}
}

func TestActiveTasksRefreshesFromRemote(t *testing.T) {
	s, m, gw := newTestService(t)
	ctx := context.Background()

	remoteTask := model.Task{ID: "task-remote", HouseholdID: "hh-1", Name: "Dishes", Points: 2}
	gw.mu.Lock()
	gw.selects[remote.TableTasks] = []model.Task{remoteTask}
	gw.mu.Unlock()

	tasks, err := s.ActiveTasks(ctx)
	if err != nil {
		t.Fatalf("active tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-remote" {
		t.Errorf("tasks = %+v, want the remote row", tasks)
	}

	row, err := m.GetTask("task-remote")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if row == nil || !row.Synced {
		t.Error("remote refresh should land in the mirror as synced")
	}
}

func TestDeleteTaskKeepsHistory(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "Vacuum", 3)
	if _, err := s.CompleteTask(ctx, task.ID); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}

	history, err := s.History(ctx, points.WindowToday)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want the completion of the deleted task", len(history))
	}
	if history[0].PointsEarned != 3 {
		t.Errorf("history entry = %d points, want 3", history[0].PointsEarned)
	}
}

func TestPointsIncludeEveryPartner(t *testing.T) {
	s, m, _ := newTestService(t)
	ctx := context.Background()

	partners := []model.Partner{
		{ID: "partner-1", HouseholdID: "hh-1", Name: "Alex"},
		{ID: "partner-2", HouseholdID: "hh-1", Name: "Sam"},
	}
	for _, p := range partners {
		if err := m.PutPartner(p, true); err != nil {
			t.Fatalf("put partner: %v", err)
		}
	}

	task, _ := s.CreateTask(ctx, "Vacuum", 4)
	if _, err := s.CompleteTask(ctx, task.ID); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	totals, err := s.Points(ctx, points.WindowToday)
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("scoreboard has %d entries, want both partners", len(totals))
	}
	byID := make(map[string]points.PartnerPoints)
	for _, pp := range totals {
		byID[pp.PartnerID] = pp
	}
	if byID["partner-1"].TotalPoints != 4 {
		t.Errorf("partner-1 = %d, want 4", byID["partner-1"].TotalPoints)
	}
	if byID["partner-2"].TotalPoints != 0 || byID["partner-2"].CompletionCount != 0 {
		t.Errorf("partner-2 = %+v, want zero entry", byID["partner-2"])
	}
}

func TestTemplatesAreStable(t *testing.T) {
	templates := Templates()
	if len(templates) == 0 {
		t.Fatal("expected built-in task templates")
	}
	for _, tmpl := range templates {
		if tmpl.Name == "" || tmpl.Points < 1 {
			t.Errorf("template %+v is invalid", tmpl)
		}
	}
}
