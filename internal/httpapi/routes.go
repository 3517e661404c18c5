package httpapi

import (
	"telehealth-portal/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RouteOptions toggles optional route groups.
type RouteOptions struct {
	DevTokens bool
}

// Register wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func Register(r *gin.Engine, h Handlers, authMW gin.HandlerFunc, opts RouteOptions) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if opts.DevTokens {
		r.POST("/v1/dev/token", h.IssueDevToken)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(CaptureClientIP())

	// CALLS routes
	// Admins are not care participants and are excluded here; the signaling service
	// still checks appointment membership on every request.
	calls := v1.Group("/calls")
	calls.Use(rbac.RequireIdentity())
	calls.Use(rbac.RequireAnyRole(rbac.RolePatient, rbac.RoleDoctor))
	{
		calls.GET("/incoming", h.IncomingCalls)
		calls.POST("/:appointment_id/offer", h.InitiateCall)
		calls.POST("/:appointment_id/answer", h.AnswerCall)
		calls.POST("/:appointment_id/candidates", h.SubmitCandidate)
		calls.GET("/:appointment_id/inbox", h.PollInbox)
		calls.DELETE("/:appointment_id", h.CloseSession)
	}
}
