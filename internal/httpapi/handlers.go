package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"telehealth-portal/internal/audit"
	"telehealth-portal/internal/auth"
	"telehealth-portal/internal/rbac"
	"telehealth-portal/internal/signaling"
	"telehealth-portal/pkg/logger"
	"telehealth-portal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// AppointmentScoper lists the appointments a user takes part in.
type AppointmentScoper interface {
	AppointmentIDsFor(ctx context.Context, userID string) ([]string, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	Signaling    *signaling.Service
	Appointments AppointmentScoper

	// Readiness checks; nil entries are skipped.
	DB    *sql.DB
	Redis *redis.Client
}

// --- Signaling ---

type offerRequest struct {
	Offer string `json:"offer"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type candidateRequest struct {
	Candidate string `json:"candidate"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	userID, ok := h.signalingIdentity(c)
	if !ok {
		return
	}
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Signaling.InitiateCall(c.Request.Context(), c.Param("appointment_id"), userID, req.Offer)
	if err != nil {
		writeSignalingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) AnswerCall(c *gin.Context) {
	userID, ok := h.signalingIdentity(c)
	if !ok {
		return
	}
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Signaling.AnswerCall(c.Request.Context(), c.Param("appointment_id"), userID, req.Answer)
	if err != nil {
		writeSignalingError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) SubmitCandidate(c *gin.Context) {
	userID, ok := h.signalingIdentity(c)
	if !ok {
		return
	}
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Signaling.SubmitCandidate(c.Request.Context(), c.Param("appointment_id"), userID, req.Candidate); err != nil {
		writeSignalingError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h Handlers) PollInbox(c *gin.Context) {
	userID, ok := h.signalingIdentity(c)
	if !ok {
		return
	}
	inbox, err := h.Signaling.PollInbox(c.Request.Context(), c.Param("appointment_id"), userID)
	if err != nil {
		writeSignalingError(c, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

func (h Handlers) CloseSession(c *gin.Context) {
	userID, ok := h.signalingIdentity(c)
	if !ok {
		return
	}
	if err := h.Signaling.CloseSession(c.Request.Context(), c.Param("appointment_id"), userID); err != nil {
		writeSignalingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// IncomingCalls lists sessions ringing for the requester.
//
// The id list is always the requester's own appointments, optionally narrowed by
// ?appointment_id= filters. Client ids outside that set are dropped silently.
func (h Handlers) IncomingCalls(c *gin.Context) {
	userID, ok := h.signalingIdentity(c)
	if !ok {
		return
	}
	if h.Appointments == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "appointments not configured"})
		return
	}
	ctx := c.Request.Context()

	own, err := h.Appointments.AppointmentIDsFor(ctx, userID)
	if err != nil {
		logger.FromGin(c).Error("appointment scope lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "appointment lookup failed"})
		return
	}
	ids := own
	if filter := c.QueryArray("appointment_id"); len(filter) > 0 {
		ids = intersect(own, filter)
	}

	calls, err := h.Signaling.ScanIncoming(ctx, ids, userID)
	if err != nil {
		writeSignalingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

// --- Dev tokens ---

type devTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueDevToken mints a token pair without credentials.
//
// NOTE: Only registered when APP_ENV is local or dev. Production tokens come from the
// identity provider.
func (h Handlers) IssueDevToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.IsCareParticipantRole(req.Role) && req.Role != rbac.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	ready := true

	if h.DB != nil {
		if err := utils.HealthCheck(ctx, h.DB, 2*time.Second); err != nil {
			logger.FromGin(c).Warn("readiness: postgres", "err", err)
			checks["postgres"] = "down"
			ready = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.FromGin(c).Warn("readiness: redis", "err", err)
			checks["redis"] = "down"
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

// --- Middleware ---

// CaptureClientIP stores the client address for audit records.
func CaptureClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// --- helpers ---

func (h Handlers) signalingIdentity(c *gin.Context) (string, bool) {
	if h.Signaling == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return "", false
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return "", false
	}
	return uid, true
}

func writeSignalingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, signaling.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, signaling.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call session not found"})
	case errors.Is(err, signaling.ErrAlreadyInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already in progress", "code": "already_in_progress"})
	case errors.Is(err, signaling.ErrAlreadyAnswered):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already answered", "code": "already_answered"})
	case errors.Is(err, signaling.ErrInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func intersect(own, filter []string) []string {
	allowed := make(map[string]struct{}, len(own))
	for _, id := range own {
		allowed[id] = struct{}{}
	}
	out := make([]string, 0, len(filter))
	for _, id := range filter {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
