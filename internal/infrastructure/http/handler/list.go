package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rezkam/taskstream/internal/auth"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/infrastructure/http/response"
)

// ListTasks handles GET /v1/tasks with filtering, sorting, and cursor
// pagination.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r.URL.Query())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	page, err := h.tasks.ListTasks(r.Context(), auth.UserIDFromContext(r.Context()), params)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toTaskPageJSON(page))
}

// parseListParams translates query parameters into list params. Validation
// of filter values themselves is the service's job; this only handles the
// transport shapes (timestamps, integers).
func parseListParams(q url.Values) (domain.ListTasksParams, error) {
	params := domain.ListTasksParams{
		Status: domain.TaskStatusFilter(q.Get("status")),
		SortBy: q.Get("sort_by"),
		Cursor: q.Get("cursor"),
	}

	switch params.Status {
	case domain.StatusFilterAll, domain.StatusFilterPending, domain.StatusFilterCompleted:
	default:
		return params, domain.Invalid("status", fmt.Errorf("must be pending or completed"))
	}

	if raw := q.Get("priority"); raw != "" {
		priority := domain.Priority(raw)
		params.Priority = &priority
	}
	if raw := q.Get("tag"); raw != "" {
		tag := raw
		params.Tag = &tag
	}

	var err error
	if params.DueBefore, err = parseTimeParam(q, "due_before"); err != nil {
		return params, err
	}
	if params.DueAfter, err = parseTimeParam(q, "due_after"); err != nil {
		return params, err
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := parsePositiveInt(raw)
		if err != nil {
			return params, domain.Invalid("limit", fmt.Errorf("must be a positive integer"))
		}
		params.Limit = limit
	}
	return params, nil
}

func parseTimeParam(q url.Values, name string) (*time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.Invalid(name, fmt.Errorf("must be an RFC 3339 timestamp"))
	}
	return &t, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", raw)
	}
	return n, nil
}
