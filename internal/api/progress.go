package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/anuvruddhi/anuvruddhi/internal/app/engagement"
	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// RecordStore serves certificates and the notification inbox.
type RecordStore interface {
	ListCertificates(ctx context.Context, userID string) ([]domain.Certificate, error)
	ListNotifications(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.InboxNotification, error)
	MarkNotificationShown(ctx context.Context, userID string, id int64) error
	DisplayName(ctx context.Context, userID string) (string, error)
	SetDisplayName(ctx context.Context, userID, name string) error
}

func userParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "userID"))
	if id == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return id, nil
}

// ─── Progression table ──────────────────────────────────────────────────────

type tierInfo struct {
	Tier       domain.Tier `json:"tier"`
	Lower      int64       `json:"lower"`
	Upper      *int64      `json:"upper"`
	Multiplier float64     `json:"multiplier"`
}

type progressionResponse struct {
	Tiers         []tierInfo           `json:"tiers"`
	ChainBonus    int64                `json:"chain_bonus"`
	LevelSpan     int64                `json:"level_span"`
	TopTierWindow int64                `json:"top_tier_window"`
	XPMilestones  []int64              `json:"xp_milestones"`
	XPPerSoulGem  int64                `json:"xp_per_soul_gem"`
	RareGems      []engagement.RareGem `json:"rare_gems"`
}

func (s *Server) handleProgression(w http.ResponseWriter, r *http.Request) {
	rules := s.acc.Rules()
	resp := progressionResponse{
		ChainBonus:    rules.ChainBonus,
		LevelSpan:     rules.LevelSpan,
		TopTierWindow: rules.TopTierWindow,
		XPMilestones:  rules.XPMilestones,
		XPPerSoulGem:  engagement.XPPerSoulGem,
		RareGems:      engagement.RareGems,
	}
	for _, t := range domain.AllTiers() {
		lower, upper := rules.TierBounds(t)
		info := tierInfo{Tier: t, Lower: lower, Multiplier: rules.Multipliers[t].Float64()}
		if upper >= 0 {
			info.Upper = &upper
		}
		resp.Tiers = append(resp.Tiers, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Progress & completions ─────────────────────────────────────────────────

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	summary, err := engagement.LoadSummary(r.Context(), s.acc.Rules(), s.store, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type completionRequest struct {
	HabitID string    `json:"habit_id"`
	BaseXP  int64     `json:"base_xp"`
	At      time.Time `json:"at,omitempty"`
}

type completionResponse struct {
	domain.CompletionResult
	Milestones []domain.MilestoneNotification `json:"milestones"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.acc.Complete(r.Context(), userID, req.HabitID, req.BaseXP, req.At)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		CompletionResult: res,
		Milestones:       s.checkMilestones(r.Context(), userID),
	})
}

// checkMilestones runs a one-shot evaluation after a write. The write has
// already succeeded, so failures are logged and retried on the next change.
func (s *Server) checkMilestones(ctx context.Context, userID string) []domain.MilestoneNotification {
	notes, err := s.notifier.Check(ctx, userID)
	if err != nil {
		s.log.Warn("milestone check failed", "user_id", userID, "error", err)
	}
	if notes == nil {
		notes = []domain.MilestoneNotification{}
	}
	return notes
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	tasks, err := s.store.TaskRecords(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

type taskResponse struct {
	TaskID     string                         `json:"task_id"`
	Task       domain.TaskRecord              `json:"task"`
	Milestones []domain.MilestoneNotification `json:"milestones"`
}

func (s *Server) handlePutTask(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	taskID := strings.TrimSpace(chi.URLParam(r, "taskID"))
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}
	var rec domain.TaskRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if rec.Completed && rec.CompletedDate == "" {
		rec.CompletedDate = time.Now().UTC().Format(time.DateOnly)
	}

	if err := s.store.PutTaskRecord(r.Context(), userID, taskID, rec); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		TaskID:     taskID,
		Task:       rec,
		Milestones: s.checkMilestones(r.Context(), userID),
	})
}

// ─── Milestones ─────────────────────────────────────────────────────────────

type milestoneStatus struct {
	domain.MilestoneDefinition
	State string `json:"state"`
}

func (s *Server) handleMilestones(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ctx := r.Context()
	tasks, err := s.store.TaskRecords(ctx, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	shown, err := s.store.ShownMilestones(ctx, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	defs := s.acc.Rules().MilestoneDefinitions(tasks)
	out := make([]milestoneStatus, 0, len(defs))
	for _, def := range defs {
		state, err := s.notifier.State(ctx, userID, def)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		out = append(out, milestoneStatus{MilestoneDefinition: def, State: state.String()})
	}
	if shown == nil {
		shown = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shown":      shown,
		"milestones": out,
	})
}

// ─── Certificates & inbox ───────────────────────────────────────────────────

func (s *Server) handleCertificates(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	certs, err := s.records.ListCertificates(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if certs == nil {
		certs = []domain.Certificate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"certificates": certs})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	pending := r.URL.Query().Get("pending") == "true"
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	notes, err := s.records.ListNotifications(r.Context(), userID, pending, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if notes == nil {
		notes = []domain.InboxNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notes})
}

func (s *Server) handleNotificationShown(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := s.records.MarkNotificationShown(r.Context(), userID, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Profile ────────────────────────────────────────────────────────────────

type profileResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	name, err := s.records.DisplayName(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{UserID: userID, DisplayName: name})
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if err := s.records.SetDisplayName(r.Context(), userID, name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{UserID: userID, DisplayName: name})
}
