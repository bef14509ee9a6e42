package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/engine"
	"github.com/crowdreach/automation/internal/mailer"
	"github.com/crowdreach/automation/internal/models"
	"github.com/crowdreach/automation/internal/render"
)

// AutomationHandlers exposes the dispatch and queue-processing invocations
// plus the execution log and preview read surfaces.
type AutomationHandlers struct {
	cfg        *config.Config
	dispatcher *engine.Dispatcher
	processor  *mailer.Processor
}

func NewAutomationHandlers(cfg *config.Config, dispatcher *engine.Dispatcher, processor *mailer.Processor) *AutomationHandlers {
	return &AutomationHandlers{cfg: cfg, dispatcher: dispatcher, processor: processor}
}

// Dispatch handles POST /api/v1/automation/dispatch. A missing
// trigger_type is rejected before any work; a trigger with no eligible
// workflow succeeds with zero executions.
func (h *AutomationHandlers) Dispatch(c *gin.Context) {
	var req models.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	rc := &engine.RunContext{
		ContactEmail: req.ContactEmail,
		ContactName:  req.ContactName,
		Metadata:     req.Metadata,
	}
	if req.ContactID != "" {
		id, err := uuid.Parse(req.ContactID)
		if err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidIDFormat, "contact_id is not a valid UUID", gin.H{"contact_id": req.ContactID})
			return
		}
		rc.ContactID = &id
	}

	resp, err := h.dispatcher.Dispatch(req.TriggerType, rc)
	if err != nil {
		if errors.Is(err, engine.ErrMissingTriggerType) {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "trigger_type is required", nil)
			return
		}
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to dispatch trigger.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, resp)
}

// ProcessQueue handles POST /api/v1/queue/process. When a process token is
// configured, the request must carry it as a bearer token.
func (h *AutomationHandlers) ProcessQueue(c *gin.Context) {
	if h.cfg.ProcessToken != "" {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != h.cfg.ProcessToken {
			RespondWithError(c, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid or missing process token.", nil)
			return
		}
	}

	resp, err := h.processor.ProcessDue()
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to process queue.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, resp)
}

// GetExecutionSteps handles GET /api/v1/executions/:id/steps.
func (h *AutomationHandlers) GetExecutionSteps(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidIDFormat, "Execution id is not a valid UUID", gin.H{"id": c.Param("id")})
		return
	}

	db := h.dispatcher.DB()
	var execution models.Execution
	if err := db.First(&execution, "id = ?", id).Error; err != nil {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeExecutionNotFound, "Execution not found.", gin.H{"id": id})
		return
	}

	steps, err := engine.ExecutionSteps(db, id)
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, "Failed to load execution steps.", nil)
		return
	}
	RespondWithSuccess(c, http.StatusOK, gin.H{"execution": execution, "steps": steps})
}

// PreviewTemplate handles POST /api/v1/templates/preview. Rendering is
// pure, so previews never touch the queue or the provider.
func (h *AutomationHandlers) PreviewTemplate(c *gin.Context) {
	var req models.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}

	renderFn := render.Render
	if req.EscapeHTML {
		renderFn = render.RenderHTML
	}
	RespondWithSuccess(c, http.StatusOK, models.PreviewResponse{
		Subject: renderFn(req.Subject, req.Variables),
		Body:    renderFn(req.Body, req.Variables),
	})
}
