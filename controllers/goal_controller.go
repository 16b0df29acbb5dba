package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/goaltrack/goals"
	"github.com/cppla/goaltrack/middleware"
	"github.com/cppla/goaltrack/utils"
)

// GoalController exposes the goal store client to UI clients.
type GoalController struct {
	clients ClientFactory
	xp      int
	now     func() time.Time
	loc     *time.Location
}

// NewGoalController creates a new GoalController instance.
func NewGoalController(clients ClientFactory, completionXP int, now func() time.Time, loc *time.Location) *GoalController {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &GoalController{clients: clients, xp: completionXP, now: now, loc: loc}
}

type goalRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsDaily     bool   `json:"isDaily"`
	Type        string `json:"type" binding:"omitempty,oneof=recurring one-time"`
	RoutineDays []int  `json:"routineDays" binding:"omitempty,dive,min=0,max=6"`
	Progress    *int   `json:"progress"`
	StartDate   string `json:"startDate"`
	TargetDate  string `json:"targetDate"`
	CoinReward  int    `json:"coinReward" binding:"min=0"`
}

// draft validates and sanitizes the request into a goals.Draft.
func (r goalRequest) draft(userID string) (goals.Draft, string) {
	d := goals.Draft{
		UserID:      userID,
		Title:       utils.SanitizeText(r.Title),
		Description: utils.SanitizeText(r.Description),
		Category:    utils.SanitizeText(r.Category),
		IsDaily:     r.IsDaily || r.Type == string(goals.TypeRecurring),
		RoutineDays: goals.NormalizeWeekdays(r.RoutineDays),
		CoinReward:  r.CoinReward,
	}
	if r.Progress != nil {
		d.Progress = *r.Progress
	}
	if d.Title == "" {
		return goals.Draft{}, "title cannot be empty"
	}
	var ok bool
	if d.StartDate, ok = optionalDay(r.StartDate); !ok {
		return goals.Draft{}, "startDate must be YYYY-MM-DD"
	}
	if d.TargetDate, ok = optionalDay(r.TargetDate); !ok {
		return goals.Draft{}, "targetDate must be YYYY-MM-DD"
	}
	return d, ""
}

func optionalDay(raw string) (*time.Time, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	day, ok := goals.ParseDay(raw)
	if !ok {
		return nil, false
	}
	return &day, true
}

func (g *GoalController) client(ctx *gin.Context, userID string) *goals.Client {
	return g.clients(userID, middleware.BearerToken(ctx), ctx.GetString(middleware.ContextRequestIDKey))
}

// ListGoals returns the signed-in user's goals. A failed fetch still answers
// 200 with an empty list and source "failed".
func (g *GoalController) ListGoals(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	res := g.client(ctx, userID).FetchAll(ctx.Request.Context(), userID)
	utils.Success(ctx, gin.H{
		"goals":   res.Goals,
		"source":  res.Outcome,
		"dropped": res.Dropped,
	})
}

// GetGoal returns one goal.
func (g *GoalController) GetGoal(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := goalID(ctx)
	if !ok {
		return
	}
	respondGoal(ctx, g.client(ctx, userID).FetchByID(ctx.Request.Context(), id), nil)
}

// CreateGoal creates a goal; when the server is unreachable a local goal is returned with 202.
func (g *GoalController) CreateGoal(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req goalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	d, msg := req.draft(userID)
	if msg != "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, msg)
		return
	}
	respondGoal(ctx, g.client(ctx, userID).Create(ctx.Request.Context(), d), nil)
}

// UpdateGoal replaces a goal's editable fields.
func (g *GoalController) UpdateGoal(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := goalID(ctx)
	if !ok {
		return
	}
	var req goalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	d, msg := req.draft(userID)
	if msg != "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, msg)
		return
	}
	client := g.client(ctx, userID)
	updated := d.Goal(id)
	if req.Progress == nil {
		// keep the current progress when the edit does not touch it; without
		// a server copy or snapshot the edit is refused rather than zeroing it
		current := client.Current(ctx.Request.Context(), id)
		if current.Goal == nil {
			respondGoal(ctx, current, nil)
			return
		}
		updated = updated.WithProgress(current.Goal.Progress)
		updated.LastCompleted = current.Goal.LastCompleted
	}
	respondGoal(ctx, client.Update(ctx.Request.Context(), updated), nil)
}

// SetProgress writes a goal's progress; out-of-range values are clamped, not rejected.
func (g *GoalController) SetProgress(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := goalID(ctx)
	if !ok {
		return
	}
	var req struct {
		Progress *int `json:"progress" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	respondGoal(ctx, g.client(ctx, userID).SetProgress(ctx.Request.Context(), id, *req.Progress), nil)
}

// ToggleGoal flips completion and reports whether the completion earns rewards.
func (g *GoalController) ToggleGoal(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := goalID(ctx)
	if !ok {
		return
	}
	res, reward, transitioned := g.client(ctx, userID).ToggleComplete(ctx.Request.Context(), id, g.xp)
	respondGoal(ctx, res, gin.H{"completedNow": transitioned, "reward": reward})
}

// RewardEligibility answers whether completing the goal right now would grant rewards.
func (g *GoalController) RewardEligibility(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := goalID(ctx)
	if !ok {
		return
	}
	res := g.client(ctx, userID).FetchByID(ctx.Request.Context(), id)
	if res.Goal == nil {
		respondGoal(ctx, res, nil)
		return
	}
	utils.Success(ctx, gin.H{
		"goalId":   id,
		"eligible": goals.CanClaimRewards(*res.Goal, g.now().In(g.loc)),
		"source":   res.Outcome,
	})
}

// DeleteGoal removes a goal. Server errors count as deleted.
func (g *GoalController) DeleteGoal(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := goalID(ctx)
	if !ok {
		return
	}
	res := g.client(ctx, userID).Remove(ctx.Request.Context(), id)
	respondGoal(ctx, res, gin.H{"deleted": res.OK()})
}
