// Package handler adapts HTTP requests to application service calls.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/application/task"
)

// DeadJobLister exposes the dead job queue for operator inspection.
type DeadJobLister interface {
	ListDead(ctx context.Context, limit int) ([]*scheduler.Job, error)
}

// TaskHandler serves the task mutation and query API.
type TaskHandler struct {
	tasks    *task.Service
	deadJobs DeadJobLister
}

// NewTaskHandler creates a new HTTP API handler.
func NewTaskHandler(tasks *task.Service, deadJobs DeadJobLister) *TaskHandler {
	return &TaskHandler{
		tasks:    tasks,
		deadJobs: deadJobs,
	}
}

// NewRouter mounts all API routes. Both production code and tests use this
// function so they exercise identical routing.
func NewRouter(tasks *task.Service, deadJobs DeadJobLister) http.Handler {
	h := NewTaskHandler(tasks, deadJobs)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.CreateTask)
			r.Get("/", h.ListTasks)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", h.GetTask)
				r.Patch("/", h.UpdateTask)
				r.Delete("/", h.DeleteTask)
				r.Post("/complete", h.CompleteTask)
				r.Post("/reminders", h.ScheduleReminder)
			})
		})
		r.Get("/admin/jobs/dead", h.ListDeadJobs)
	})
	return r
}
