package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opstrack/opstrack/internal/api/shared"
	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/redact"
	"github.com/opstrack/opstrack/internal/service"
	"github.com/opstrack/opstrack/internal/store"
)

// PlanTaskHandler handles plan task and notification HTTP requests
type PlanTaskHandler struct {
	service  service.PlanTaskService
	location *time.Location
	logger   *slog.Logger
}

// NewPlanTaskHandler creates a new PlanTaskHandler. Zone-less plan times in
// requests are read in loc.
func NewPlanTaskHandler(svc service.PlanTaskService, loc *time.Location, logger *slog.Logger) *PlanTaskHandler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanTaskHandler{
		service:  svc,
		location: loc,
		logger:   logger.With("component", "plan_task_handler"),
	}
}

// RegisterRoutes mounts the plan task, audit and robot endpoints on r.
func (h *PlanTaskHandler) RegisterRoutes(r chi.Router) {
	r.Route("/plan-tasks", func(r chi.Router) {
		r.Get("/", h.ListPlanTasks)
		r.Post("/", h.CreatePlanTask)
		r.Post("/test-notification", h.SendTestNotification)
		r.Get("/{id}", h.GetPlanTask)
		r.Put("/{id}", h.UpdatePlanTask)
		r.Delete("/{id}", h.DeletePlanTask)
		r.Post("/{id}/status", h.ChangeStatus)
	})
	r.Get("/notification-audits", h.ListAudits)
	r.Get("/alert-robots", h.ListRobots)
}

// respondWithServiceError maps err to a status and a safe message.
func (h *PlanTaskHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// decodeAndValidate reads the JSON body into req and validates it. It writes
// the error response and returns false on failure.
func (h *PlanTaskHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	if err := shared.DecodeJSON(r, req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		if errors.Is(err, shared.ErrEmptyBody) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Request body is required")
			return false
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return false
	}
	if err := shared.ValidateRequest(req); err != nil {
		log.Warn("validation error", slog.String("error", redact.Error(err)))
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

func (h *PlanTaskHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := getPathID(r, "id")
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("invalid plan task id",
			slog.String("value", chi.URLParam(r, "id")))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid plan task ID")
		return 0, false
	}
	return id, true
}

// ListPlanTasks handles GET /api/plan-tasks
func (h *PlanTaskHandler) ListPlanTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PlanTaskFilter{
		Status:   domain.PlanTaskStatus(q.Get("status")),
		TaskType: q.Get("task_type"),
		Owner:    q.Get("owner"),
		Keyword:  q.Get("keyword"),
	}

	tasks, err := h.service.ListPlanTasks(r.Context(), filter)
	if err != nil {
		h.respondWithServiceError(w, r, err, "Failed to list plan tasks")
		return
	}

	resp := PlanTaskListResponse{Items: make([]PlanTaskResponse, 0, len(tasks)), Total: len(tasks)}
	for i := range tasks {
		resp.Items = append(resp.Items, planTaskToResponse(&tasks[i], false))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CreatePlanTask handles POST /api/plan-tasks
func (h *PlanTaskHandler) CreatePlanTask(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanTaskRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	planTime, err := parsePlanTime(req.PlanTime, h.location)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid plan_time format", err)
		return
	}

	input := service.CreatePlanTaskInput{
		Title:           strings.TrimSpace(req.Title),
		TaskType:        req.TaskType,
		Description:     req.Description,
		ScheduleType:    domain.ScheduleType(req.ScheduleType),
		ScheduleValue:   req.ScheduleValue,
		PlanTime:        planTime,
		ReminderMinutes: req.ReminderMinutes,
		ReminderEnabled: req.ReminderEnabled,
		WebhookURL:      req.WebhookURL,
		ReminderMessage: req.ReminderMessage,
		AlertRobot:      req.AlertRobot,
		Owner:           req.Owner,
		Responsible:     req.Responsible,
		CreatedBy:       req.CreatedBy,
		Preparations:    toPreparationInputs(req.Preparations),
	}

	task, err := h.service.CreatePlanTask(r.Context(), input)
	if err != nil {
		h.respondWithServiceError(w, r, err, "Failed to create plan task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, planTaskToResponse(task, true))
}

// GetPlanTask handles GET /api/plan-tasks/{id}
func (h *PlanTaskHandler) GetPlanTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetPlanTask(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err, "Failed to get plan task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, planTaskToResponse(task, true))
}

// UpdatePlanTask handles PUT /api/plan-tasks/{id}
func (h *PlanTaskHandler) UpdatePlanTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req UpdatePlanTaskRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	input := service.UpdatePlanTaskInput{
		Title:           req.Title,
		TaskType:        req.TaskType,
		Description:     req.Description,
		ScheduleValue:   req.ScheduleValue,
		ReminderMinutes: req.ReminderMinutes,
		ReminderEnabled: req.ReminderEnabled,
		WebhookURL:      req.WebhookURL,
		ReminderMessage: req.ReminderMessage,
		AlertRobot:      req.AlertRobot,
		Owner:           req.Owner,
		Responsible:     req.Responsible,
		ResultStatus:    req.ResultStatus,
		ResultNotes:     req.ResultNotes,
	}
	if req.ScheduleType != nil {
		st := domain.ScheduleType(*req.ScheduleType)
		input.ScheduleType = &st
	}
	if req.Status != nil {
		st := domain.PlanTaskStatus(*req.Status)
		input.Status = &st
	}
	if req.PlanTime != nil {
		planTime, err := parsePlanTime(*req.PlanTime, h.location)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid plan_time format", err)
			return
		}
		input.PlanTime = &planTime
	}
	if req.Preparations != nil {
		preps := toPreparationInputs(*req.Preparations)
		input.Preparations = &preps
	}

	task, err := h.service.UpdatePlanTask(r.Context(), id, input)
	if err != nil {
		h.respondWithServiceError(w, r, err, "Failed to update plan task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, planTaskToResponse(task, true))
}

// ChangeStatus handles POST /api/plan-tasks/{id}/status
func (h *PlanTaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.service.ChangeStatus(r.Context(), id, service.StatusChangeInput{
		Action:       service.StatusAction(req.Action),
		ResultStatus: req.ResultStatus,
		ResultNotes:  req.ResultNotes,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err, "Failed to update plan task status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, planTaskToResponse(task, true))
}

// DeletePlanTask handles DELETE /api/plan-tasks/{id}
func (h *PlanTaskHandler) DeletePlanTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePlanTask(r.Context(), id); err != nil {
		h.respondWithServiceError(w, r, err, "Failed to delete plan task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendTestNotification handles POST /api/plan-tasks/test-notification.
// Dispatch failures are reported in the body with status 200.
func (h *PlanTaskHandler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	input := service.TestNotificationInput{
		WebhookURL:      req.WebhookURL,
		ReminderMessage: req.ReminderMessage,
		Title:           req.Title,
		PlanTime:        req.PlanTime,
		Owner:           req.Owner,
		Responsible:     req.Responsible,
	}
	for _, p := range req.Preparations {
		input.Preparations = append(input.Preparations, service.TestPreparation{
			Description: p.Description,
			Done:        domain.PreparationStatus(p.Status) == domain.PreparationDone,
		})
	}

	res := h.service.SendTestNotification(r.Context(), input)
	shared.RespondWithJSON(w, r, http.StatusOK, TestNotificationResponse{
		Delivered: res.Delivered,
		Message:   redact.String(res.Message),
	})
}

// ListAudits handles GET /api/notification-audits
func (h *PlanTaskHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	taskID, err := queryInt64(r, "task_id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task_id", err)
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	filter := store.AuditFilter{TaskID: taskID, Limit: int(limit)}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := parsePlanTime(since, h.location)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid since", err)
			return
		}
		filter.Since = t
	}

	audits, err := h.service.ListAudits(r.Context(), filter)
	if err != nil {
		h.respondWithServiceError(w, r, err, "Failed to list notification audits")
		return
	}

	resp := make([]AuditResponse, 0, len(audits))
	for _, a := range audits {
		resp = append(resp, auditToResponse(a))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListRobots handles GET /api/alert-robots
func (h *PlanTaskHandler) ListRobots(w http.ResponseWriter, r *http.Request) {
	robots := h.service.Robots()
	resp := make([]RobotResponse, 0, len(robots))
	for _, rb := range robots {
		resp = append(resp, robotToResponse(rb))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func toPreparationInputs(items []PreparationRequest) []service.PreparationInput {
	out := make([]service.PreparationInput, 0, len(items))
	for _, p := range items {
		out = append(out, service.PreparationInput{
			Description:      p.Description,
			Status:           domain.PreparationStatus(p.Status),
			EstimatedMinutes: p.EstimatedMinutes,
		})
	}
	return out
}
