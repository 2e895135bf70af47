package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anitrack/internal/models"
	"anitrack/internal/repository"
	"anitrack/internal/service"
)

const principalKey = "principal"

// HTTPHandler handles HTTP requests for the REST API
type HTTPHandler struct {
	authSvc      *service.AuthService
	watchlistSvc *service.WatchlistService
	recSvc       *service.RecommendationService
	reminderSvc  *service.ReminderService
	animeRepo    *repository.AnimeRepository
	backupSvc    *service.BackupService
	logger       *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler
func NewHTTPHandler(
	authSvc *service.AuthService,
	watchlistSvc *service.WatchlistService,
	recSvc *service.RecommendationService,
	reminderSvc *service.ReminderService,
	animeRepo *repository.AnimeRepository,
	backupSvc *service.BackupService,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		authSvc:      authSvc,
		watchlistSvc: watchlistSvc,
		recSvc:       recSvc,
		reminderSvc:  reminderSvc,
		animeRepo:    animeRepo,
		backupSvc:    backupSvc,
		logger:       logger,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/health", h.Health)

	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)

	api := r.Group("/api")
	api.Use(h.authMiddleware)

	api.POST("/auth/logout", h.Logout)

	// Catalog
	api.GET("/anime", h.ListAnime)
	api.GET("/anime/:id", h.GetAnime)
	api.POST("/anime", h.requireAdmin, h.CreateAnime)

	// Watchlist
	api.GET("/watchlist", h.GetWatchlist)
	api.PUT("/watchlist/:animeID", h.UpsertWatchEntry)
	api.DELETE("/watchlist/:animeID", h.RemoveWatchEntry)

	// Recommendations
	api.GET("/recommendations", h.GetRecommendations)

	// Reminders
	api.POST("/reminders", h.CreateReminder)
	api.GET("/reminders", h.ListReminders)
	api.DELETE("/reminders/:id", h.DismissReminder)

	// Backups
	api.POST("/admin/backup", h.requireAdmin, func(c *gin.Context) {
		backupPath, err := h.backupSvc.Backup()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"backup_path": backupPath})
	})
}

// Health returns health status
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRequest is the request body for user registration
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register creates a new account and returns a session token
func (h *HTTPHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, token, err := h.authSvc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and returns a session token
func (h *HTTPHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, token, err := h.authSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

// Logout removes the current session
func (h *HTTPHandler) Logout(c *gin.Context) {
	if err := h.authSvc.Logout(bearerToken(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ListAnime returns catalog entries with filtering, sorting and pagination
func (h *HTTPHandler) ListAnime(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.animeRepo.List(repository.ListOptions{
		Search:   c.Query("q"),
		Genre:    c.Query("genre"),
		Type:     c.Query("type"),
		SortBy:   c.Query("sort_by"),
		Order:    c.Query("order"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []models.Anime{}
	}

	c.JSON(http.StatusOK, gin.H{"anime": list, "total": total, "page": page})
}

// GetAnime returns a single catalog entry
func (h *HTTPHandler) GetAnime(c *gin.Context) {
	id := h.getIntParam(c, "id")
	if id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anime id"})
		return
	}

	anime, err := h.animeRepo.GetByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if anime == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "anime not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"anime": anime})
}

// CreateAnimeRequest is the request body for adding a catalog entry
type CreateAnimeRequest struct {
	Name         string   `json:"name" binding:"required"`
	AltName      string   `json:"alt_name"`
	Genres       []string `json:"genres"`
	Type         string   `json:"type" binding:"required,oneof=TV Movie OVA ONA Special"`
	EpisodeCount int      `json:"episode_count" binding:"min=0"`
	Synopsis     string   `json:"synopsis"`
	ReleaseDate  string   `json:"release_date"`
}

// CreateAnime adds a catalog entry (admin only)
func (h *HTTPHandler) CreateAnime(c *gin.Context) {
	var req CreateAnimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Genres == nil {
		req.Genres = []string{}
	}

	anime := &models.Anime{
		Name:         req.Name,
		AltName:      req.AltName,
		Genres:       req.Genres,
		Type:         req.Type,
		EpisodeCount: req.EpisodeCount,
		Synopsis:     req.Synopsis,
		ReleaseDate:  req.ReleaseDate,
	}
	if err := h.animeRepo.Create(anime); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"anime": anime})
}

// GetWatchlist returns the current user's watch entries
func (h *HTTPHandler) GetWatchlist(c *gin.Context) {
	entries, err := h.watchlistSvc.List(h.principal(c).ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// UpsertWatchEntry adds or updates a watch entry
func (h *HTTPHandler) UpsertWatchEntry(c *gin.Context) {
	animeID := h.getIntParam(c, "animeID")
	if animeID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anime id"})
		return
	}

	var input service.UpsertInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.watchlistSvc.Upsert(h.principal(c).ID, animeID, input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// RemoveWatchEntry deletes a watch entry
func (h *HTTPHandler) RemoveWatchEntry(c *gin.Context) {
	animeID := h.getIntParam(c, "animeID")
	if animeID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anime id"})
		return
	}

	if err := h.watchlistSvc.Remove(h.principal(c).ID, animeID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

// GetRecommendations returns ranked suggestions for the current user.
// The engine degrades through its tiers internally, so an error here means
// the persistence layer itself failed.
func (h *HTTPHandler) GetRecommendations(c *gin.Context) {
	resp, err := h.recSvc.Recommend(c.Request.Context(), h.principal(c).ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if resp.Recommendations == nil {
		resp.Recommendations = []models.Recommendation{}
	}
	c.JSON(http.StatusOK, resp)
}

// CreateReminder creates a reminder with a computed fire time
func (h *HTTPHandler) CreateReminder(c *gin.Context) {
	var input service.CreateReminderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reminder, err := h.reminderSvc.Create(h.principal(c).ID, input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"reminder": reminder})
}

// ListReminders returns the current user's active reminders
func (h *HTTPHandler) ListReminders(c *gin.Context) {
	reminders, err := h.reminderSvc.List(h.principal(c).ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

// DismissReminder deactivates a reminder
func (h *HTTPHandler) DismissReminder(c *gin.Context) {
	id := h.getIntParam(c, "id")
	if id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reminder id"})
		return
	}

	if err := h.reminderSvc.Dismiss(id, h.principal(c).ID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "dismissed"})
}

// authMiddleware resolves the bearer token to a user and stores the
// principal in the request context.
func (h *HTTPHandler) authMiddleware(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
		c.Abort()
		return
	}

	user, err := h.authSvc.UserFromToken(token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		c.Abort()
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		c.Abort()
		return
	}

	c.Set(principalKey, user)
	c.Next()
}

// requireAdmin rejects non-admin principals
func (h *HTTPHandler) requireAdmin(c *gin.Context) {
	if !h.principal(c).IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin privilege required"})
		c.Abort()
		return
	}
	c.Next()
}

// writeError maps service errors to status codes
func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Helper functions

func (h *HTTPHandler) principal(c *gin.Context) *models.User {
	user, _ := c.Get(principalKey)
	return user.(*models.User)
}

func bearerToken(c *gin.Context) string {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (h *HTTPHandler) getIntParam(c *gin.Context, key string) int64 {
	value := c.Param(key)
	if value == "" {
		value = c.Query(key)
	}
	if value == "" {
		return 0
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
