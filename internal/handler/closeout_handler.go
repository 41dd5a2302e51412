package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
	"github.com/kaeldominion/CrowdStack-sub002/internal/dto"
	"github.com/kaeldominion/CrowdStack-sub002/internal/service"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/logger"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/middleware"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/response"
)

// CloseoutHandler handles event closeout HTTP requests
type CloseoutHandler struct {
	closeoutService service.CloseoutService
	log             *logger.Logger
}

// NewCloseoutHandler creates a new CloseoutHandler
func NewCloseoutHandler(closeoutService service.CloseoutService, log *logger.Logger) *CloseoutHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &CloseoutHandler{
		closeoutService: closeoutService,
		log:             log,
	}
}

// RegisterRoutes mounts the closeout routes on an authenticated group
func (h *CloseoutHandler) RegisterRoutes(rg *gin.RouterGroup) {
	closeout := rg.Group("/events/:id/closeout")
	closeout.GET("", h.GetSummary)
	closeout.GET("/transitions", h.ListTransitions)
	closeout.PUT("/status", h.SetStep)
	closeout.POST("/finalize", h.Finalize)
	closeout.PUT("/promoters/:promoterId/checkins", h.SetCheckinOverride)
	closeout.PUT("/promoters/:promoterId/adjustment", h.SetPayoutAdjustment)
}

// GetSummary handles GET /events/:id/closeout
func (h *CloseoutHandler) GetSummary(c *gin.Context) {
	eventID := c.Param("id")

	summary, err := h.closeoutService.GetCloseoutSummary(c.Request.Context(), eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.NewCloseoutSummaryResponse(summary)))
}

// SetCheckinOverride handles PUT /events/:id/closeout/promoters/:promoterId/checkins
func (h *CloseoutHandler) SetCheckinOverride(c *gin.Context) {
	var req dto.SetCheckinOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid request body"))
		return
	}

	actor, ok := middleware.GetUserID(c)
	if !ok || actor == "" {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("User ID not found in token"))
		return
	}

	line, err := h.closeoutService.SetCheckinOverride(c.Request.Context(), c.Param("id"), c.Param("promoterId"), req.Count, req.Reason, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	middleware.SetAuditNewValues(c, map[string]interface{}{
		"manual_checkins_override": line.ManualCheckinsOverride,
		"manual_checkins_reason":   line.ManualCheckinsReason,
		"effective_checkins_count": line.EffectiveCheckinsCount,
	})
	c.JSON(http.StatusOK, response.Success(dto.NewPromoterLineResponse(line)))
}

// SetPayoutAdjustment handles PUT /events/:id/closeout/promoters/:promoterId/adjustment
func (h *CloseoutHandler) SetPayoutAdjustment(c *gin.Context) {
	var req dto.SetPayoutAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid request body"))
		return
	}

	actor, ok := middleware.GetUserID(c)
	if !ok || actor == "" {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("User ID not found in token"))
		return
	}

	line, err := h.closeoutService.SetPayoutAdjustment(c.Request.Context(), c.Param("id"), c.Param("promoterId"), req.Amount, req.Reason, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := dto.NewPromoterLineResponse(line)
	middleware.SetAuditNewValues(c, map[string]interface{}{
		"manual_adjustment_amount": resp.ManualAdjustmentAmount,
		"manual_adjustment_reason": resp.ManualAdjustmentReason,
		"final_payout":             resp.FinalPayout,
	})
	c.JSON(http.StatusOK, response.Success(resp))
}

// SetStep handles PUT /events/:id/closeout/status
func (h *CloseoutHandler) SetStep(c *gin.Context) {
	var req dto.SetCloseoutStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid request body"))
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.BadRequest(msg))
		return
	}

	actor, ok := middleware.GetUserID(c)
	if !ok || actor == "" {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("User ID not found in token"))
		return
	}

	summary, err := h.closeoutService.SetStep(c.Request.Context(), c.Param("id"), domain.CloseoutStatus(req.Status), req.Reason, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.NewCloseoutSummaryResponse(summary)))
}

// Finalize handles POST /events/:id/closeout/finalize. A repeated call answers
// 409 with the existing closure as data.
func (h *CloseoutHandler) Finalize(c *gin.Context) {
	var req dto.FinalizeCloseoutRequest
	// the body is optional; an empty one, chunked or not, decodes to io.EOF
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid request body"))
		return
	}

	actor, ok := middleware.GetUserID(c)
	if !ok || actor == "" {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("User ID not found in token"))
		return
	}

	rec, err := h.closeoutService.Finalize(c.Request.Context(), c.Param("id"), req.ToInput(), actor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := dto.NewClosureResponse(rec)
	middleware.SetAuditNewValues(c, map[string]interface{}{
		"closure_id":     resp.ID,
		"total_payout":   resp.TotalPayout,
		"total_checkins": resp.TotalCheckins,
	})
	c.JSON(http.StatusCreated, response.Success(resp))
}

// ListTransitions handles GET /events/:id/closeout/transitions
func (h *CloseoutHandler) ListTransitions(c *gin.Context) {
	transitions, err := h.closeoutService.ListTransitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessWithMeta(
		dto.NewTransitionResponses(transitions),
		&response.Meta{Total: int64(len(transitions))},
	))
}

// respondError maps service errors to the response envelope
func (h *CloseoutHandler) respondError(c *gin.Context, err error) {
	var (
		validation *domain.ValidationError
		closed     *domain.ClosedEventError
		already    *domain.AlreadyClosedError
		locked     *domain.ResourceLockedError
		currency   *domain.InconsistentCurrencyError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, response.ErrorWithDetails(response.ErrCodeValidationFailed, validation.Message, validation.Details))
	case errors.As(err, &already):
		var data interface{}
		if already.Record != nil {
			data = dto.NewClosureResponse(already.Record)
		}
		c.JSON(http.StatusConflict, response.ErrorWithData(response.ErrCodeAlreadyClosed, "Event closeout already finalized", data))
	case errors.As(err, &closed):
		c.JSON(http.StatusConflict, response.Conflict(response.ErrCodeEventClosed, "Event already closed"))
	case errors.As(err, &locked):
		c.JSON(http.StatusLocked, response.Locked(""))
	case errors.Is(err, domain.ErrEventNotFound):
		c.JSON(http.StatusNotFound, response.NotFound("Event not found"))
	case errors.Is(err, domain.ErrPromoterNotAssigned):
		c.JSON(http.StatusNotFound, response.NotFound("Promoter not assigned to event"))
	case errors.Is(err, domain.ErrConcurrentModification):
		c.JSON(http.StatusConflict, response.Conflict("", "Closeout was modified concurrently, retry"))
	case errors.As(err, &currency):
		h.log.WithContext(c.Request.Context()).Error("closeout currency mismatch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.Error(response.ErrCodeInconsistentCurrency, "Commission currency does not match event currency"))
	default:
		h.log.WithContext(c.Request.Context()).Error("closeout request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to process closeout"))
	}
}
