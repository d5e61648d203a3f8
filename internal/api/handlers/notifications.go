package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plantcare-engine/internal/api/response"
	"plantcare-engine/internal/engine"
	"plantcare-engine/internal/escalation"
	"plantcare-engine/internal/push"
	"plantcare-engine/pkg/types"
)

// ProfileStore accepts activity profile updates
type ProfileStore interface {
	PutProfile(ctx context.Context, profile types.ActivityProfile) error
}

// NotificationHandler exposes task status, batching, escalation and profile operations
type NotificationHandler struct {
	engine   *engine.Engine
	profiles ProfileStore
}

// NewNotificationHandler creates a notification handler; profiles may be nil
func NewNotificationHandler(e *engine.Engine, profiles ProfileStore) *NotificationHandler {
	return &NotificationHandler{engine: e, profiles: profiles}
}

// StatusRequest changes a task's status
type StatusRequest struct {
	Status types.TaskStatus `json:"status"`
}

// CancelResponse reports where a cancelled notification was found
type CancelResponse struct {
	TaskID  string             `json:"task_id"`
	Outcome push.CancelOutcome `json:"outcome"`
}

// FlushResponse is a flush report with failure reasons rendered as text
type FlushResponse struct {
	Dispatched   []types.NotificationBatch `json:"dispatched"`
	Failed       []FailedBatch             `json:"failed"`
	Skipped      int                       `json:"skipped"`
	SkippedTasks []string                  `json:"skipped_tasks,omitempty"`
	Conflicts    int                       `json:"conflicts"`
}

// FailedBatch describes a batch whose dispatch was abandoned
type FailedBatch struct {
	BatchID string   `json:"batch_id"`
	TaskIDs []string `json:"task_ids"`
	Errors  []string `json:"errors"`
}

// SweepResponse is a sweep report with errors rendered as text
type SweepResponse struct {
	Notified int      `json:"notified"`
	Dropped  int      `json:"dropped"`
	Tracked  int      `json:"tracked"`
	Errors   []string `json:"errors,omitempty"`
}

// SetStatus handles PATCH /tasks/{taskID}/status
func (h *NotificationHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.engine.SetTaskStatus(r.Context(), chi.URLParam(r, "taskID"), req.Status)
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	response.WriteSuccess(w, task)
}

// Cancel handles DELETE /tasks/{taskID}/notification
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	outcome := h.engine.CancelNotification(r.Context(), taskID)
	response.WriteSuccess(w, CancelResponse{TaskID: taskID, Outcome: outcome})
}

// Enqueue handles POST /notifications
func (h *NotificationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req types.NotificationBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.EnqueueNotification(r.Context(), req); err != nil {
		if errors.Is(err, push.ErrBatcherClosed) {
			response.WriteServiceUnavailable(w, "Notification batcher is shutting down")
			return
		}
		response.WriteEngineError(w, err)
		return
	}
	response.WriteStatus(w, http.StatusAccepted, map[string]string{
		"task_id": req.TaskID,
		"state":   string(h.engine.BatcherState()),
	})
}

// Flush handles POST /notifications/flush
func (h *NotificationHandler) Flush(w http.ResponseWriter, r *http.Request) {
	report := h.engine.Flush(r.Context())
	out := FlushResponse{
		Dispatched:   report.Dispatched,
		Failed:       make([]FailedBatch, 0, len(report.Failed)),
		Skipped:      report.Skipped,
		SkippedTasks: report.SkippedTasks,
		Conflicts:    report.Conflicts,
	}
	if out.Dispatched == nil {
		out.Dispatched = []types.NotificationBatch{}
	}
	for _, f := range report.Failed {
		out.Failed = append(out.Failed, FailedBatch{BatchID: f.BatchID, TaskIDs: f.TaskIDs, Errors: errorStrings(f.Errors)})
	}
	response.WriteSuccess(w, out)
}

// Sweep handles POST /escalations/sweep
func (h *NotificationHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	response.WriteSuccess(w, sweepResponse(h.engine.RunEscalationSweep(r.Context())))
}

// ListEscalations handles GET /escalations
func (h *NotificationHandler) ListEscalations(w http.ResponseWriter, _ *http.Request) {
	states := h.engine.Escalations()
	if states == nil {
		states = []types.EscalationState{}
	}
	response.WriteSuccess(w, states)
}

// PutProfile handles PUT /profiles/{userID}
func (h *NotificationHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		response.WriteServiceUnavailable(w, "Activity profiles are not writable")
		return
	}
	var profile types.ActivityProfile
	if !decodeJSON(w, r, &profile) {
		return
	}
	userID := chi.URLParam(r, "userID")
	if profile.UserID != "" && profile.UserID != userID {
		response.WriteBadRequest(w, "User id mismatch")
		return
	}
	profile.UserID = userID
	if err := h.profiles.PutProfile(r.Context(), profile); err != nil {
		response.WriteEngineError(w, err)
		return
	}
	response.WriteSuccess(w, profile)
}

func sweepResponse(report *escalation.SweepReport) SweepResponse {
	return SweepResponse{
		Notified: report.Notified,
		Dropped:  report.Dropped,
		Tracked:  report.Tracked,
		Errors:   errorStrings(report.Errors),
	}
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
