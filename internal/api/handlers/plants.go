package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"plantcare-engine/internal/api/response"
	"plantcare-engine/internal/engine"
	"plantcare-engine/internal/tasks"
	"plantcare-engine/pkg/types"
)

const maxNotifyWindowHours = 24 * 30

// PlantHandler exposes the per-plant scheduling operations
type PlantHandler struct {
	engine *engine.Engine
}

// NewPlantHandler creates a plant handler
func NewPlantHandler(e *engine.Engine) *PlantHandler {
	return &PlantHandler{engine: e}
}

// GenerateRequest asks for a stage's tasks
type GenerateRequest struct {
	Plant types.Plant       `json:"plant"`
	Stage types.GrowthStage `json:"stage,omitempty"`
}

// NotifyRequest asks for the plant's upcoming tasks to be notified
type NotifyRequest struct {
	Plant       types.Plant `json:"plant"`
	WithinHours int         `json:"within_hours"`
}

// SeriesRequest describes a recurring task series
type SeriesRequest struct {
	UserID                   string         `json:"user_id"`
	TaskType                 types.TaskType `json:"task_type"`
	Title                    string         `json:"title"`
	Description              string         `json:"description,omitempty"`
	Priority                 types.Priority `json:"priority,omitempty"`
	EstimatedDurationMinutes int            `json:"estimated_duration_minutes,omitempty"`
	TemplateID               *string        `json:"template_id,omitempty"`
	IntervalDays             int            `json:"interval_days"`
	From                     time.Time      `json:"from"`
	Until                    time.Time      `json:"until"`
}

// TransitionResponse reports a detected or applied stage change
type TransitionResponse struct {
	Due     bool              `json:"due"`
	From    types.GrowthStage `json:"from"`
	To      types.GrowthStage `json:"to,omitempty"`
	Applied bool              `json:"applied"`
	Tasks   []types.PlantTask `json:"tasks,omitempty"`
}

// GenerateTasks handles POST /plants/{plantID}/tasks/generate
func (h *PlantHandler) GenerateTasks(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !bindPlant(w, r, &req.Plant) {
		return
	}
	stage := req.Stage
	if stage == "" {
		stage = req.Plant.GrowthStage
	}

	generated, err := h.engine.GenerateTasksForStage(r.Context(), &req.Plant, stage)
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	response.WriteCreated(w, generated, fmt.Sprintf("%d tasks generated", len(generated)))
}

// ListPending handles GET /plants/{plantID}/tasks
func (h *PlantHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.PendingTasks(r.Context(), chi.URLParam(r, "plantID"))
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	if pending == nil {
		pending = []types.PlantTask{}
	}
	response.WriteSuccess(w, pending)
}

// AdjustForConditions handles POST /plants/{plantID}/conditions
func (h *PlantHandler) AdjustForConditions(w http.ResponseWriter, r *http.Request) {
	var conditions types.Conditions
	if !decodeJSON(w, r, &conditions) {
		return
	}
	mutations, err := h.engine.AdjustForConditions(r.Context(), chi.URLParam(r, "plantID"), conditions)
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	if mutations == nil {
		mutations = []types.TaskMutation{}
	}
	response.WriteSuccess(w, mutations)
}

// Transition handles POST /plants/{plantID}/transition. With ?advance=true a
// due transition is applied and the next stage's tasks generated.
func (h *PlantHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var plant types.Plant
	if !decodeJSON(w, r, &plant) {
		return
	}
	if !bindPlant(w, r, &plant) {
		return
	}

	out := TransitionResponse{From: plant.GrowthStage}
	if r.URL.Query().Get("advance") != "true" {
		out.To, out.Due = h.engine.DetectStageTransition(r.Context(), &plant)
		response.WriteSuccess(w, out)
		return
	}

	adv, err := h.engine.AdvanceStage(r.Context(), &plant)
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	if adv != nil {
		out.Due, out.Applied = true, true
		out.To = adv.To
		out.Tasks = adv.Tasks
	}
	response.WriteSuccess(w, out)
}

// Notify handles POST /plants/{plantID}/notify
func (h *PlantHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !bindPlant(w, r, &req.Plant) {
		return
	}
	if req.WithinHours < 1 || req.WithinHours > maxNotifyWindowHours {
		response.WriteBadRequest(w, "Invalid window", fmt.Sprintf("within_hours must be between 1 and %d", maxNotifyWindowHours))
		return
	}

	n, err := h.engine.NotifyTasks(r.Context(), &req.Plant, time.Duration(req.WithinHours)*time.Hour)
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	response.WriteStatus(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

// CreateSeries handles POST /plants/{plantID}/series
func (h *PlantHandler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req SeriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.From.IsZero() || req.Until.IsZero() {
		response.WriteBadRequest(w, "Invalid series", "from and until are required")
		return
	}

	template := tasks.SeriesTemplate{
		PlantID:                  chi.URLParam(r, "plantID"),
		UserID:                   req.UserID,
		TaskType:                 req.TaskType,
		Title:                    req.Title,
		Description:              req.Description,
		Priority:                 req.Priority,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		TemplateID:               req.TemplateID,
		IntervalDays:             req.IntervalDays,
	}
	series, err := h.engine.CreateSeries(r.Context(), template, req.From, req.Until)
	if err != nil {
		response.WriteEngineError(w, err)
		return
	}
	response.WriteCreated(w, series, fmt.Sprintf("%d tasks scheduled", len(series)))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.WriteBadRequest(w, "Invalid JSON", err.Error())
		return false
	}
	return true
}

// bindPlant fills the plant id from the path and rejects a conflicting body id
func bindPlant(w http.ResponseWriter, r *http.Request, plant *types.Plant) bool {
	id := chi.URLParam(r, "plantID")
	if plant.ID != "" && plant.ID != id {
		response.WriteBadRequest(w, "Plant id mismatch", fmt.Sprintf("path %q, body %q", id, plant.ID))
		return false
	}
	plant.ID = id
	return true
}
