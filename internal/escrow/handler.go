package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"wager-engine/internal/pkg/errs"
)

// Handler exposes a Transferer as the internal transfer sub-API.
type Handler struct {
	transfers Transferer
}

// NewHandler creates a new Handler.
func NewHandler(transfers Transferer) *Handler {
	return &Handler{transfers: transfers}
}

// RegisterRoutes registers the transfer routes under /internal/transfers.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	g := router.Group("/internal/transfers")
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/cancel", h.Cancel)
}

type createRequest struct {
	Entries []Entry `json:"entries" binding:"required"`
}

type confirmRequest struct {
	Target string `json:"target"`
	Swap   bool   `json:"swap"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /internal/transfers.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": errs.KindValidation, "details": err.Error()})
		return
	}

	id, err := h.transfers.Create(c.Request.Context(), req.Entries)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// Get handles GET /internal/transfers/:id.
func (h *Handler) Get(c *gin.Context) {
	t, err := h.transfers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Confirm handles POST /internal/transfers/:id/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": errs.KindValidation, "details": err.Error()})
		return
	}

	var err error
	if req.Swap {
		err = h.transfers.ConfirmSwap(c.Request.Context(), c.Param("id"))
	} else {
		err = h.transfers.Confirm(c.Request.Context(), c.Param("id"), req.Target)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Cancel handles POST /internal/transfers/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": errs.KindValidation, "details": err.Error()})
		return
	}

	if err := h.transfers.Cancel(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Transfer request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": codeOf(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInProgress):
		return http.StatusLocked
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrOwnership):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
