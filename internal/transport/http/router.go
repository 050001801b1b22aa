package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterConfig carries the pieces NewRouter wires together.
type RouterConfig struct {
	Polls          *PollHandler
	WS             *WSHandler
	Identity       *IdentityResolver
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter builds the gin engine for the pull channel, lecturer controls and /ws.
func NewRouter(cfg RouterConfig) *gin.Engine {
	setupValidator()

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", headerRequestID, headerUserID}
	corsConfig.ExposeHeaders = []string{headerRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(RequestID())
	router.Use(RequestLogger(cfg.Log.With().Str("component", "http").Logger()))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapF(cfg.WS.ServeWS))

	api := router.Group("/api/v1")
	api.Use(cfg.Identity.Identity())

	polls := cfg.Polls
	api.GET("/getActiveQuestion", polls.GetActiveQuestion)
	api.GET("/getQuestionById", polls.GetQuestionByID)
	api.GET("/getSessionQuestions", polls.GetSessionQuestions)

	authed := api.Group("")
	authed.Use(RequireIdentity())
	authed.POST("/submitResponse", polls.SubmitResponse)
	authed.GET("/getResponseCounts", polls.GetResponseCounts)

	sessions := authed.Group("/sessions/:sessionId")
	sessions.PATCH("/setActiveQuestion", polls.SetActiveQuestion)
	sessions.POST("/createWildcardQuestion", polls.CreateWildcardQuestion)
	sessions.POST("/advance", polls.AdvanceQuestion)
	sessions.POST("/end", polls.EndSession)
	sessions.GET("/presence", polls.GetPresence)

	courses := authed.Group("/courses/:courseId")
	courses.POST("/sessions", polls.OpenSession)
	courses.POST("/questions", polls.CreateQuestion)

	return router
}
