package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/goaltrack/config"
	"github.com/cppla/goaltrack/controllers"
	"github.com/cppla/goaltrack/middleware"
	"github.com/cppla/goaltrack/routine"
	"github.com/cppla/goaltrack/utils"
)

// Deps carries what the handlers need. Clients builds the per-request goal client.
type Deps struct {
	Config      config.AppConfig
	Clients     controllers.ClientFactory
	Coordinator *routine.Coordinator
	Now         func() time.Time
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(accessLog(cfg)...)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	goalController := controllers.NewGoalController(deps.Clients, cfg.CompletionXP, deps.Now, cfg.Location())
	routineController := controllers.NewRoutineController(deps.Clients, deps.Coordinator)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	goalsGroup := api.Group("/goals")
	goalsGroup.GET("", goalController.ListGoals)
	goalsGroup.POST("", goalController.CreateGoal)
	goalsGroup.GET("/:id", goalController.GetGoal)
	goalsGroup.PUT("/:id", goalController.UpdateGoal)
	goalsGroup.DELETE("/:id", goalController.DeleteGoal)
	goalsGroup.PUT("/:id/progress", goalController.SetProgress)
	goalsGroup.POST("/:id/toggle", goalController.ToggleGoal)
	goalsGroup.GET("/:id/reward-eligibility", goalController.RewardEligibility)

	api.POST("/routine/check", routineController.CheckDailyReset)
	if cfg.DebugRoutes {
		api.GET("/routine/marker", routineController.GetMarker)
		api.DELETE("/routine/marker", routineController.ClearMarker)
	}

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}

// accessLog writes gin access and panic logs to the rolling gin log, or to
// the application logger when no gin log path is configured.
func accessLog(cfg config.AppConfig) []gin.HandlerFunc {
	gl := utils.Logger
	if cfg.GinPath != "" {
		fileLogger, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			return []gin.HandlerFunc{gin.Recovery()}
		}
		gl = fileLogger
	}
	return []gin.HandlerFunc{
		ginzap.GinzapWithConfig(gl, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			SkipPaths:  []string{"/health"},
			Context: func(ctx *gin.Context) []zap.Field {
				return []zap.Field{zap.String("request_id", ctx.GetString(middleware.ContextRequestIDKey))}
			},
		}),
		ginzap.RecoveryWithZap(gl, false),
	}
}
