package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"civicflow/auth"
	"civicflow/identity"
	"civicflow/issue"
	"civicflow/notification"
)

// Server wires the domain services behind an HTTP router.
type Server struct {
	auth          *auth.Service
	identities    *identity.Service
	issues        *issue.Service
	engine        *issue.Engine
	notifications *notification.Service
	redis         *redis.Client
	dailyLimit    int
	logger        *slog.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(
	authSvc *auth.Service,
	identities *identity.Service,
	issues *issue.Service,
	engine *issue.Engine,
	notifications *notification.Service,
	redisClient *redis.Client,
	dailyLimit int,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:          authSvc,
		identities:    identities,
		issues:        issues,
		engine:        engine,
		notifications: notifications,
		redis:         redisClient,
		dailyLimit:    dailyLimit,
		logger:        logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.GET("/issues/public", s.handleListPublic)

	authed := api.Group("")
	authed.Use(Auth(s.auth, s.identities))
	{
		authed.POST("/issues", DailyLimit(s.redis, "issue_limit", s.dailyLimit), s.handleCreateIssue)
		authed.GET("/issues", s.handleListIssues)
		authed.GET("/issues/:id", s.handleGetIssue)
		authed.GET("/issues/:id/updates", s.handleListUpdates)
		authed.POST("/issues/:id/attachments", s.handleAttachFiles)
		authed.POST("/issues/:id/transition", s.handleTransition)
		authed.PATCH("/issues/:id/priority", s.handleSetPriority)
		authed.GET("/notifications/unread", s.handleListUnread)
		authed.POST("/notifications/:id/read", s.handleMarkRead)
	}

	return r
}

func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.auth.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.auth.Login(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"user": gin.H{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
		},
	})
}

type createIssueRequest struct {
	Title       string   `json:"title" binding:"required,max=200"`
	Description *string  `json:"description,omitempty"`
	Category    string   `json:"category" binding:"required"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Address     *string  `json:"address,omitempty"`
}

func (s *Server) handleCreateIssue(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req createIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	is, err := s.issues.Create(c.Request.Context(), issue.CreateParams{
		ReporterID:  actor.ActorID,
		Title:       req.Title,
		Description: req.Description,
		Category:    issue.Category(req.Category),
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issue.ViewOf(is))
}

func (s *Server) handleListIssues(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	views, err := s.issues.List(c.Request.Context(), actor, filtersFromQuery(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": views})
}

func (s *Server) handleListPublic(c *gin.Context) {
	views, err := s.issues.ListPublic(c.Request.Context(), filtersFromQuery(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": views})
}

func (s *Server) handleGetIssue(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	view, err := s.issues.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListUpdates(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	views, err := s.issues.ListUpdates(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updates": views})
}

type attachRequest struct {
	Attachments []issue.Attachment `json:"attachments" binding:"required"`
}

func (s *Server) handleAttachFiles(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	is, err := s.issues.AttachFiles(c.Request.Context(), actor, c.Param("id"), req.Attachments)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue.ViewOf(is))
}

type transitionRequest struct {
	Status           string  `json:"status" binding:"required"`
	Notes            *string `json:"notes,omitempty"`
	InternalNotes    *string `json:"internal_notes,omitempty"`
	AssignTo         *string `json:"assign_to,omitempty"`
	AssignDepartment *string `json:"assign_department,omitempty"`
}

func (s *Server) handleTransition(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	is, err := s.engine.Transition(c.Request.Context(), issue.TransitionParams{
		IssueID:          c.Param("id"),
		Actor:            actor,
		NextStatus:       issue.Status(req.Status),
		Notes:            req.Notes,
		InternalNotes:    req.InternalNotes,
		AssignTo:         req.AssignTo,
		AssignDepartment: req.AssignDepartment,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue.ViewOf(is))
}

type priorityRequest struct {
	Priority int `json:"priority" binding:"required"`
}

func (s *Server) handleSetPriority(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := s.issues.SetPriorityOverride(c.Request.Context(), actor, c.Param("id"), req.Priority)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListUnread(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	list, err := s.notifications.ListUnread(c.Request.Context(), actor.ActorID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	if err := s.notifications.MarkRead(c.Request.Context(), c.Param("id"), actor.ActorID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func filtersFromQuery(c *gin.Context) issue.Filters {
	f := issue.Filters{
		ReporterID: c.Query("reporter_id"),
		Status:     issue.Status(c.Query("status")),
		Category:   issue.Category(c.Query("category")),
	}
	switch c.Query("has_location") {
	case "true":
		t := true
		f.HasLocation = &t
	case "false":
		fa := false
		f.HasLocation = &fa
	}
	return f
}

// writeError maps domain sentinel errors onto HTTP statuses. Anything
// unmapped is a 500 and gets logged.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, issue.ErrInvalidInput),
		errors.Is(err, issue.ErrInvalidTransition),
		errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, identity.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, issue.ErrForbidden),
		errors.Is(err, notification.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, issue.ErrNotFound),
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, issue.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
