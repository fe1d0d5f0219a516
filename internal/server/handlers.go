package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/household"
	"github.com/florianbuchner/whodoes/internal/points"
	"github.com/florianbuchner/whodoes/internal/remote"
	"github.com/florianbuchner/whodoes/internal/session"
	"github.com/florianbuchner/whodoes/internal/task"
)

// Handler builds the control API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/household", s.createHousehold)
	mux.HandleFunc("POST /api/household/join", s.joinHousehold)

	mux.HandleFunc("GET /api/partners", s.listPartners)
	mux.HandleFunc("POST /api/partners", s.createPartner)

	mux.HandleFunc("GET /api/session", s.getSession)
	mux.HandleFunc("POST /api/session/partner", s.selectPartner)
	mux.HandleFunc("POST /api/session/reset", s.resetSession)

	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.completeTask)
	mux.HandleFunc("POST /api/tasks/{id}/favorite", s.toggleFavorite)

	mux.HandleFunc("GET /api/favorites", s.listFavorites)
	mux.HandleFunc("POST /api/completions/{id}/undo", s.undoCompletion)

	mux.HandleFunc("GET /api/history", s.history)
	mux.HandleFunc("GET /api/points", s.pointsTotals)
	mux.HandleFunc("GET /api/top-tasks", s.topTasks)
	mux.HandleFunc("GET /api/templates", s.templates)

	mux.HandleFunc("GET /api/status", s.status)

	return mux
}

type householdRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (s *Server) createHousehold(w http.ResponseWriter, r *http.Request) {
	var req householdRequest
	if !decode(w, r, &req) {
		return
	}

	h, err := s.households.Create(r.Context(), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.sessions.SetHousehold(h.ID, h.Code); err != nil {
		s.fail(w, err)
		return
	}
	s.activate(session.Session{HouseholdID: h.ID, HouseholdCode: h.Code})
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) joinHousehold(w http.ResponseWriter, r *http.Request) {
	var req householdRequest
	if !decode(w, r, &req) {
		return
	}

	h, err := s.households.Join(r.Context(), req.Code)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.sessions.SetHousehold(h.ID, h.Code); err != nil {
		s.fail(w, err)
		return
	}
	s.activate(session.Session{HouseholdID: h.ID, HouseholdCode: h.Code})
	writeJSON(w, http.StatusOK, h)
}

type partnerRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar_url"`
}

func (s *Server) createPartner(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession()
	if !sess.Active() {
		s.fail(w, ErrNoHousehold)
		return
	}

	var req partnerRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := s.households.CreatePartner(r.Context(), sess.HouseholdID, req.Name, req.Avatar)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.mirror.PutPartner(p, true); err != nil {
		s.fail(w, err)
		return
	}
	s.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyPartners, sess.HouseholdID))
	s.cache.InvalidatePrefix(cache.FamilyKey(cache.FamilyPoints, sess.HouseholdID))
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPartners(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	partners, err := svc.Partners(r.Context())
	if err != nil && partners == nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, partners)
}

type selectPartnerRequest struct {
	PartnerID string `json:"partner_id"`
}

func (s *Server) selectPartner(w http.ResponseWriter, r *http.Request) {
	var req selectPartnerRequest
	if !decode(w, r, &req) {
		return
	}

	sess, err := s.setPartner(req.PartnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.sessions.SetPartner(req.PartnerID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionPayload(s.currentSession()))
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(); err != nil {
		s.fail(w, err)
		return
	}
	s.Stop()
	w.WriteHeader(http.StatusNoContent)
}

type taskRequest struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	var req taskRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := svc.CreateTask(r.Context(), req.Name, req.Points)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	tasks, err := svc.ActiveTasks(r.Context())
	if err != nil && tasks == nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	var req taskRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := svc.UpdateTask(r.Context(), r.PathValue("id"), req.Name, req.Points)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := svc.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	c, err := svc.CompleteTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	on, err := svc.ToggleFavorite(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": on})
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	favs, err := svc.Favorites(r.Context())
	if err != nil && favs == nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

func (s *Server) undoCompletion(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := svc.UndoCompletion(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	kind, ok := windowKind(w, r)
	if !ok {
		return
	}
	entries, err := svc.History(r.Context(), kind)
	if err != nil && entries == nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) pointsTotals(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	kind, ok := windowKind(w, r)
	if !ok {
		return
	}
	totals, err := svc.Points(r.Context(), kind)
	if err != nil && totals == nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) topTasks(w http.ResponseWriter, r *http.Request) {
	svc, err := s.current()
	if err != nil {
		s.fail(w, err)
		return
	}
	kind, ok := windowKind(w, r)
	if !ok {
		return
	}
	ranks, err := svc.TopTasks(r.Context(), kind)
	if err != nil && ranks == nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranks)
}

func (s *Server) templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, task.Templates())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	engine := s.engine
	sess := s.sess
	s.mu.Unlock()

	payload := map[string]any{
		"session": sessionPayload(sess),
		"feed":    s.bridge.State(),
	}
	if engine != nil {
		payload["sync"] = engine.Status()
	}
	writeJSON(w, http.StatusOK, payload)
}

// windowKind parses the ?window= query; empty means today.
func windowKind(w http.ResponseWriter, r *http.Request) (points.WindowKind, bool) {
	switch raw := r.URL.Query().Get("window"); raw {
	case "", "today":
		return points.WindowToday, true
	case "week":
		return points.WindowWeek, true
	case "month":
		return points.WindowMonth, true
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown window"})
		return "", false
	}
}

func sessionPayload(sess session.Session) map[string]any {
	return map[string]any{
		"household_id":   sess.HouseholdID,
		"household_code": sess.HouseholdCode,
		"partner_id":     sess.PartnerID,
		"active":         sess.Active(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail maps domain and gateway errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var conflict *remote.ConflictError
	var validation *remote.ValidationError
	switch {
	case errors.Is(err, ErrNoHousehold), errors.Is(err, task.ErrNoPartner):
		status = http.StatusConflict
	case errors.Is(err, task.ErrTaskNotFound), errors.Is(err, household.ErrInvalidCode):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrTaskDeleted):
		status = http.StatusGone
	case errors.Is(err, task.ErrEmptyName), errors.Is(err, task.ErrBadPoints):
		status = http.StatusBadRequest
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &validation):
		status = http.StatusUnprocessableEntity
	case remote.IsConnectivity(err):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
