package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/goaltrack/goals"
	"github.com/cppla/goaltrack/middleware"
	"github.com/cppla/goaltrack/utils"
)

func requireUser(ctx *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return "", false
	}
	return userID, true
}

// goalID parses the :id path parameter. Negative ids are valid local-only goals.
func goalID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40041, "invalid goal id")
		return 0, false
	}
	return id, true
}

// respondGoal maps a client Result onto the response envelope. Values the
// server has not confirmed are answered with 202 so the UI can tell them apart.
func respondGoal(ctx *gin.Context, res goals.Result, extra gin.H) {
	data := gin.H{"goal": res.Goal, "source": res.Outcome}
	for k, v := range extra {
		data[k] = v
	}
	switch res.Outcome {
	case goals.OutcomeServer, goals.OutcomeLocal:
		utils.Success(ctx, data)
	case goals.OutcomeFallback:
		utils.Accepted(ctx, data)
	case goals.OutcomeNotFound:
		utils.Error(ctx, http.StatusNotFound, 40440, "goal not found")
	default:
		utils.Error(ctx, http.StatusBadGateway, 50240, "goal service unavailable")
	}
}
