package handlers

import (
	"net/http"

	"formation-booking/internal/logger"

	"github.com/go-chi/chi/v5"
)

// JobHandler позволяет администратору запустить задачу согласованности вручную
type JobHandler struct {
	runner JobRunner
	log    *logger.Logger
}

// NewJobHandler создает обработчик задач
func NewJobHandler(runner JobRunner, log *logger.Logger) *JobHandler {
	return &JobHandler{runner: runner, log: log}
}

// ListJobs возвращает имена зарегистрированных задач
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"jobs": h.runner.Jobs()})
}

// RunJob выполняет задачу синхронно. Занятая другой копией задача даёт 409.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.runner.RunNow(r.Context(), name); err != nil {
		writeServiceError(w, h.log, err, "Failed to run job")
		return
	}

	h.log.WithField("job", name).Info("Job executed on demand")
	writeJSONResponse(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}
