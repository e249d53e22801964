package script

import (
	"net/http"
	"script-desk/internal/domain"
	"script-desk/internal/errors"
	"script-desk/internal/lease"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type AcquireLeaseRequest struct {
	Session string `json:"session" binding:"required,uuid"`
	Reclaim bool   `json:"reclaim"`
	// Renew only extends a lease this session already holds.
	Renew bool `json:"renew"`
}

type ContentRequest struct {
	// Content may be empty, so it is not "required".
	Content string `json:"content" binding:"max=1048576"`
}

// RegisterRoutes mounts the script routes for stories and pieces on api.
func (h *Handler) RegisterRoutes(api gin.IRouter) {
	groups := map[string]domain.ScopeType{
		"/stories/:id/script": domain.ScopeStory,
		"/pieces/:id/script":  domain.ScopePiece,
	}
	for path, scopeType := range groups {
		g := api.Group(path, ScopeParam(scopeType))
		g.GET("", h.ShowCurrent)
		g.POST("/lease", h.AcquireLease)
		g.DELETE("/lease", h.ReleaseLease)
		g.PUT("/draft", h.SaveDraft)
		g.POST("/versions", h.CommitVersion)
		g.GET("/versions", h.ListVersions)
	}
}

// ScopeParam parses the :id route param into a scope of the given type.
func ScopeParam(scopeType domain.ScopeType) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.Error(errors.BadRequest("Invalid id", err))
			c.Abort()
			return
		}
		scope, err := domain.NewScope(scopeType, id)
		if err != nil {
			c.Error(errors.BadRequest("Invalid id", err))
			c.Abort()
			return
		}
		c.Set("scope", scope)
		c.Next()
	}
}

func scopeOf(c *gin.Context) domain.Scope {
	scope, _ := c.Get("scope")
	s, _ := scope.(domain.Scope)
	return s
}

func (h *Handler) ShowCurrent(c *gin.Context) {
	draft, err := h.service.GetCurrent(c.Request.Context(), scopeOf(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, draft)
}

func (h *Handler) AcquireLease(c *gin.Context) {
	var input AcquireLeaseRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	l, err := h.service.AcquireLease(c.Request.Context(), scopeOf(c), lease.Claim{
		User:     c.GetString("user_id"),
		UserName: c.GetString("user_name"),
		Session:  input.Session,
		Reclaim:  input.Reclaim,
		Renew:    input.Renew,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (h *Handler) ReleaseLease(c *gin.Context) {
	session := c.Query("session")
	if session == "" {
		c.Error(errors.UnprocessableEntity("session query parameter is required", nil))
		return
	}

	released, err := h.service.ReleaseLease(c.Request.Context(), scopeOf(c), c.GetString("user_id"), session)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (h *Handler) SaveDraft(c *gin.Context) {
	var input ContentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	words, err := h.service.SaveDraft(c.Request.Context(), scopeOf(c), input.Content, c.GetString("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"word_count": words})
}

func (h *Handler) CommitVersion(c *gin.Context) {
	var input ContentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	v, err := h.service.CommitVersion(c.Request.Context(), scopeOf(c), input.Content, c.GetString("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.service.ListVersions(c.Request.Context(), scopeOf(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": versions})
}
