package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/AuditVault/internal/anchor"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/model"
	"github.com/jmerrifield20/AuditVault/internal/store"
)

// retryAfterSeconds is advertised when the ledger is unavailable.
const retryAfterSeconds = "5"

// AuditHandler serves the audit event API.
type AuditHandler struct {
	svc    *anchor.Service
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *anchor.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register registers the audit event routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	events := rg.Group("/audit-events")
	{
		events.POST("", h.CreateAuditEvent)
		events.GET("", h.ListAuditEvents)
		events.GET("/:id", h.GetAuditEvent)
		events.GET("/:id/verify", h.VerifyAuditEvent)
	}
}

// RegisterCompat registers POST /audit-event at the router root. It is the
// route earlier clients use and answers 200 instead of 201.
func (h *AuditHandler) RegisterCompat(r gin.IRouter) {
	r.POST("/audit-event", h.CreateAuditEventCompat)
}

// CreateAuditEvent handles POST /audit-events. The body is {"event": {...}}.
func (h *AuditHandler) CreateAuditEvent(c *gin.Context) {
	h.createAuditEvent(c, http.StatusCreated)
}

// CreateAuditEventCompat handles POST /audit-event.
func (h *AuditHandler) CreateAuditEventCompat(c *gin.Context) {
	h.createAuditEvent(c, http.StatusOK)
}

func (h *AuditHandler) createAuditEvent(c *gin.Context, status int) {
	var req model.AuditEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.Anchor(c.Request.Context(), req.Event)
	if err != nil {
		h.anchorError(c, err)
		return
	}
	c.JSON(status, model.NewAuditEventResponse(rec))
}

func (h *AuditHandler) anchorError(c *gin.Context, err error) {
	var serr *event.SerializationError
	var perr *anchor.PersistenceError
	switch {
	case errors.As(err, &serr):
		c.JSON(http.StatusBadRequest, gin.H{"error": serr.Error()})
	case errors.As(err, &perr):
		// The ledger holds the hash; the caller needs the reference to
		// reconcile.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        "event anchored but not stored",
			"hash":         perr.Hash.String(),
			"fabric_tx_id": perr.Ref.String(),
		})
	case errors.Is(err, fabric.ErrRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "ledger rejected submission"})
	case errors.Is(err, fabric.ErrUnavailable):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
	default:
		h.logger.Error("anchor audit event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "anchoring failed"})
	}
}

// ListAuditEvents handles GET /audit-events?limit=&offset=.
func (h *AuditHandler) ListAuditEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	recs, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list audit events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit events"})
		return
	}
	if recs == nil {
		recs = []*model.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"events": recs, "count": len(recs)})
}

// GetAuditEvent handles GET /audit-events/:id.
func (h *AuditHandler) GetAuditEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "audit event not found"})
			return
		}
		h.logger.Error("get audit event", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get audit event"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// VerifyAuditEvent handles GET /audit-events/:id/verify.
func (h *AuditHandler) VerifyAuditEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	v, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "audit event not found"})
		case errors.Is(err, fabric.ErrUnavailable):
			c.Header("Retry-After", retryAfterSeconds)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		default:
			h.logger.Error("verify audit event", zap.Int64("event_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}
	c.JSON(http.StatusOK, v)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event ID"})
		return 0, false
	}
	return id, true
}
