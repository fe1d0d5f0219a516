// Package server is the loopback control surface the UI talks to. It owns the
// lifecycle of the per-household pieces: joining or creating a household
// builds the sync engine and task service and starts the watch loop and
// change feed; resetting the session tears them down again.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/household"
	"github.com/florianbuchner/whodoes/internal/mirror"
	"github.com/florianbuchner/whodoes/internal/realtime"
	"github.com/florianbuchner/whodoes/internal/remote"
	"github.com/florianbuchner/whodoes/internal/session"
	"github.com/florianbuchner/whodoes/internal/syncer"
	"github.com/florianbuchner/whodoes/internal/task"
)

// ErrNoHousehold is returned for household-scoped requests before setup.
var ErrNoHousehold = errors.New("no household joined")

type Server struct {
	mirror     *mirror.Store
	gw         remote.Gateway
	cache      *cache.Cache
	sessions   *session.Store
	households *household.Service
	bridge     *realtime.Bridge
	probe      time.Duration
	log        *slog.Logger

	baseCtx context.Context

	mu     sync.Mutex
	sess   session.Session
	engine *syncer.Engine
	tasks  *task.Service
}

func New(m *mirror.Store, gw remote.Gateway, c *cache.Cache, sessions *session.Store, households *household.Service, bridge *realtime.Bridge, probe time.Duration, log *slog.Logger) *Server {
	return &Server{
		mirror:     m,
		gw:         gw,
		cache:      c,
		sessions:   sessions,
		households: households,
		bridge:     bridge,
		probe:      probe,
		log:        log,
	}
}

// Start resumes the persisted session: if a household was already joined, the
// engine and feed come up immediately.
func (s *Server) Start(ctx context.Context, sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx
	if sess.Active() {
		s.activateLocked(sess)
	}
}

// Stop tears down the engine and feed. Safe to call when idle.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked()
}

func (s *Server) activate(sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateLocked(sess)
}

func (s *Server) activateLocked(sess session.Session) {
	s.deactivateLocked()

	s.sess = sess
	s.engine = syncer.NewEngine(s.mirror, s.gw, s.cache, sess.HouseholdID, s.log)
	s.tasks = task.NewService(s.engine, s.mirror, s.cache, s.gw, sess, s.log)
	s.engine.StartWatch(s.baseCtx, s.probe)
	s.bridge.Subscribe(s.baseCtx, sess.HouseholdID)
	s.log.Info("session active", "household", sess.HouseholdID)
}

func (s *Server) deactivateLocked() {
	if s.engine == nil {
		return
	}
	s.bridge.Unsubscribe()
	s.engine.StopWatch()
	s.engine = nil
	s.tasks = nil
	s.sess = session.Session{}
}

// setPartner re-binds the task service to the chosen partner.
func (s *Server) setPartner(partnerID string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return session.Session{}, ErrNoHousehold
	}
	s.sess.PartnerID = partnerID
	s.tasks = task.NewService(s.engine, s.mirror, s.cache, s.gw, s.sess, s.log)
	return s.sess, nil
}

func (s *Server) current() (*task.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		return nil, ErrNoHousehold
	}
	return s.tasks, nil
}

func (s *Server) currentSession() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}
