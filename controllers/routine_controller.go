package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/goaltrack/goals"
	"github.com/cppla/goaltrack/middleware"
	"github.com/cppla/goaltrack/routine"
	"github.com/cppla/goaltrack/utils"
)

// RoutineController runs the daily reset check for the signed-in user.
type RoutineController struct {
	clients     ClientFactory
	coordinator *routine.Coordinator
}

// NewRoutineController creates a new RoutineController instance.
func NewRoutineController(clients ClientFactory, coordinator *routine.Coordinator) *RoutineController {
	return &RoutineController{clients: clients, coordinator: coordinator}
}

// CheckDailyReset is called by the UI on launch and on every foreground.
func (r *RoutineController) CheckDailyReset(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	client := r.clients(userID, middleware.BearerToken(ctx), ctx.GetString(middleware.ContextRequestIDKey))
	report := r.coordinator.CheckAndReset(ctx.Request.Context(), userID, client)
	utils.Success(ctx, report)
}

// GetMarker shows the user's last reset date.
func (r *RoutineController) GetMarker(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	day, found, err := r.coordinator.Markers().Last(ctx.Request.Context(), userID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to read reset marker")
		return
	}
	data := gin.H{"userId": userID, "lastReset": nil}
	if found {
		data["lastReset"] = goals.FormatDay(day)
	}
	utils.Success(ctx, data)
}

// ClearMarker forgets the user's last reset date so the next check resets again.
func (r *RoutineController) ClearMarker(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	if err := r.coordinator.Markers().Clear(ctx.Request.Context(), userID); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to clear reset marker")
		return
	}
	utils.Success(ctx, gin.H{"userId": userID, "cleared": true})
}
