package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rezkam/taskstream/internal/auth"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/infrastructure/http/response"
)

// createTaskRequest is the body of POST /v1/tasks.
type createTaskRequest struct {
	Title       string            `json:"title"`
	Description *string           `json:"description"`
	Priority    *string           `json:"priority"`
	Tags        []string          `json:"tags"`
	DueAt       *time.Time        `json:"due_at"`
	Recurrence  *recurrenceInput  `json:"recurrence"`
	Reminders   []reminderRequest `json:"reminders"`
}

type recurrenceInput struct {
	Pattern  string `json:"pattern"`
	Interval int    `json:"interval"`
}

type reminderRequest struct {
	RemindAt       time.Time `json:"remind_at"`
	DeliveryMethod string    `json:"delivery_method"`
}

// updateTaskRequest is the body of PATCH /v1/tasks/{task_id}.
// Absent fields are untouched.
type updateTaskRequest struct {
	Title            *string    `json:"title"`
	Description      *string    `json:"description"`
	Priority         *string    `json:"priority"`
	Tags             *[]string  `json:"tags"`
	DueAt            *time.Time `json:"due_at"`
	ClearDueAt       bool       `json:"clear_due_at"`
	ClearDescription bool       `json:"clear_description"`
}

// CreateTask handles POST /v1/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeStrict(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	params := domain.CreateTaskParams{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		DueAt:       req.DueAt,
	}
	if req.Priority != nil {
		priority, err := domain.NewPriority(*req.Priority)
		if err != nil {
			response.FromDomainError(w, r, domain.Invalid("priority", err))
			return
		}
		params.Priority = priority
	}
	if req.Recurrence != nil {
		pattern, err := domain.NewRecurrencePattern(req.Recurrence.Pattern)
		if err != nil {
			response.FromDomainError(w, r, domain.Invalid("recurrence.pattern", err))
			return
		}
		params.Recurrence = &domain.RecurrenceInput{
			Pattern:  pattern,
			Interval: req.Recurrence.Interval,
		}
	}
	for _, rem := range req.Reminders {
		params.Reminders = append(params.Reminders, domain.ReminderInput{
			RemindAt:       rem.RemindAt,
			DeliveryMethod: rem.DeliveryMethod,
		})
	}

	created, err := h.tasks.CreateTask(r.Context(), auth.UserIDFromContext(r.Context()), params)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, toTaskJSON(created))
}

// GetTask handles GET /v1/tasks/{task_id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.GetTask(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toTaskJSON(t))
}

// UpdateTask handles PATCH /v1/tasks/{task_id}.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decodeStrict(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	patch := domain.UpdateTaskParams{
		Title:            req.Title,
		Description:      req.Description,
		Tags:             req.Tags,
		DueAt:            req.DueAt,
		ClearDueAt:       req.ClearDueAt,
		ClearDescription: req.ClearDescription,
	}
	if req.Priority != nil {
		priority, err := domain.NewPriority(*req.Priority)
		if err != nil {
			response.FromDomainError(w, r, domain.Invalid("priority", err))
			return
		}
		patch.Priority = &priority
	}

	updated, err := h.tasks.UpdateTask(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "taskID"), patch)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toTaskJSON(updated))
}

// CompleteTask handles POST /v1/tasks/{task_id}/complete.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	completed, err := h.tasks.CompleteTask(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toTaskJSON(completed))
}

// DeleteTask handles DELETE /v1/tasks/{task_id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := h.tasks.DeleteTask(r.Context(), auth.UserIDFromContext(r.Context()), taskID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "task deleted via HTTP", "task_id", taskID)
	response.NoContent(w)
}

// ScheduleReminder handles POST /v1/tasks/{task_id}/reminders.
func (h *TaskHandler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := decodeStrict(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	rem, err := h.tasks.ScheduleReminder(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "taskID"), domain.ReminderInput{
		RemindAt:       req.RemindAt,
		DeliveryMethod: req.DeliveryMethod,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, toReminderJSON(rem))
}

// ListDeadJobs handles GET /v1/admin/jobs/dead. Dead jobs exhausted their
// retry budget and need operator attention.
func (h *TaskHandler) ListDeadJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			response.ValidationError(w, "limit", "must be a positive integer")
			return
		}
		limit = parsed
	}

	jobs, err := h.deadJobs.ListDead(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list dead jobs via HTTP",
			"limit", limit,
			"error", err)
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"jobs": toDeadJobJSON(jobs)})
}

// decodeStrict decodes a JSON body, rejecting unknown fields. The request
// option set is closed; a misspelled field is an error, not a silent no-op.
func decodeStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
