package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"agora-server/internal/config"
	"agora-server/internal/gates"
	"agora-server/internal/handler"
	"agora-server/internal/hub"
	"agora-server/internal/identity"
	"agora-server/internal/middleware"
	"agora-server/internal/model"
	"agora-server/internal/moderation"
	"agora-server/internal/spam"
	"agora-server/internal/store"
	"agora-server/internal/witness"
)

type Deps struct {
	Config   config.Config
	Registry *identity.Registry
	Queue    *moderation.Queue
	Store    *store.Store
	Chain    *witness.Chain
	Gates    *gates.Evaluator
	Spam     *spam.Detector
	Hub      *hub.Hub
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	requestLimiter := middleware.NewRateLimiter(deps.Config.RequestsPerMinute, time.Minute)
	r.Use(middleware.RateLimitByIP(requestLimiter))

	authHandler := &handler.AuthHandler{Registry: deps.Registry}
	r.POST("/auth/register", authHandler.Register)
	r.GET("/auth/challenge", authHandler.Challenge)
	r.POST("/auth/verify", authHandler.Verify)
	r.POST("/auth/token", authHandler.CreateBootstrapToken)
	r.POST("/auth/apikey", authHandler.CreateAPIKey)

	contentHandler := &handler.ContentHandler{
		Registry:        deps.Registry,
		Queue:           deps.Queue,
		Store:           deps.Store,
		Gates:           deps.Gates,
		Spam:            deps.Spam,
		Hub:             deps.Hub,
		SignatureMaxAge: deps.Config.SignatureMaxAge,
	}

	// Approved-only projection, no credential needed.
	r.GET("/posts", contentHandler.ListPosts)
	r.GET("/posts/:id", contentHandler.GetPost)
	r.GET("/posts/:id/comments", contentHandler.ListComments)

	gatesHandler := &handler.GatesHandler{Gates: deps.Gates}
	r.GET("/gates", gatesHandler.Info)
	r.GET("/gates/evaluate", gatesHandler.Evaluate)

	witnessHandler := &handler.WitnessHandler{Chain: deps.Chain}
	r.GET("/witness", witnessHandler.List)
	r.GET("/witness/verify", witnessHandler.Verify)

	postLimiter := middleware.NewRateLimiter(deps.Config.PostsPerHour, time.Hour)
	commentLimiter := middleware.NewRateLimiter(deps.Config.CommentsPerHour, time.Hour)

	authed := r.Group("/")
	authed.Use(middleware.RequireAuth(deps.Registry))
	authed.POST("/posts", middleware.RateLimitByAgent(postLimiter), contentHandler.CreatePost)
	authed.POST("/posts/:id/comment", middleware.RateLimitByAgent(commentLimiter), contentHandler.CreateComment)
	authed.POST("/posts/:id/vote", middleware.RequireTier(deps.Registry, model.TierAPIKey), contentHandler.Vote)

	adminHandler := &handler.AdminHandler{
		Registry: deps.Registry,
		Queue:    deps.Queue,
		Chain:    deps.Chain,
		Hub:      deps.Hub,
	}

	// The appeal route carries the admin path prefix but is author-gated
	// inside the queue, not allowlist-gated.
	authed.POST("/admin/appeal/:queue_id", adminHandler.Appeal)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireAdmin(deps.Registry))
	admin.GET("/queue", adminHandler.ListQueue)
	admin.POST("/approve/:queue_id", adminHandler.Approve)
	admin.POST("/reject/:queue_id", adminHandler.Reject)
	admin.POST("/ban/:address", adminHandler.Ban)

	eventsHandler := &handler.EventsHandler{Registry: deps.Registry, Hub: deps.Hub}
	r.GET("/ws", eventsHandler.Serve)

	return r
}
