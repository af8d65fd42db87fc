package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
)

// RepositoryHandlers serves the git repository manager.
type RepositoryHandlers struct {
	repos  RepositoryService
	logger *logger.Logger
}

// RegisterRepositoryRoutes mounts the repository endpoints under
// /api/repositories.
func RegisterRepositoryRoutes(router *gin.Engine, repos RepositoryService, log *logger.Logger) {
	h := &RepositoryHandlers{
		repos:  repos,
		logger: log.WithFields(zap.String("component", "repository-handlers")),
	}
	group := router.Group("/api/repositories")
	group.GET("", h.httpList)
	group.POST("", h.httpClone)
	group.PUT("/:name", h.httpUpdate)
	group.DELETE("/:name", h.httpRemove)
	group.GET("/:name/status", h.httpStatus)
}

func (h *RepositoryHandlers) httpList(c *gin.Context) {
	repos, err := h.repos.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if repos == nil {
		repos = []gitrepo.RepositoryInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

func (h *RepositoryHandlers) httpClone(c *gin.Context) {
	var req gitrepo.CloneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	req.Token = bearerToken(c)

	repo, err := h.repos.Clone(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repository": repo})
}

func (h *RepositoryHandlers) httpUpdate(c *gin.Context) {
	repo, err := h.repos.Update(c.Request.Context(), c.Param("name"), bearerToken(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repository": repo})
}

func (h *RepositoryHandlers) httpRemove(c *gin.Context) {
	if err := h.repos.Remove(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *RepositoryHandlers) httpStatus(c *gin.Context) {
	report, err := h.repos.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
