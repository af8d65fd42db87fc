package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/catalog"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

// ScriptHandlers serves the script catalog and runs catalog scripts.
type ScriptHandlers struct {
	catalog   ScriptCatalog
	processes ProcessService
	shell     string
	logger    *logger.Logger
}

// RegisterScriptRoutes mounts the catalog endpoints under /api/scripts.
// shell is the PowerShell executable used for .ps1 scripts.
func RegisterScriptRoutes(router *gin.Engine, scripts ScriptCatalog, processes ProcessService, shell string, log *logger.Logger) {
	h := &ScriptHandlers{
		catalog:   scripts,
		processes: processes,
		shell:     shell,
		logger:    log.WithFields(zap.String("component", "script-handlers")),
	}
	group := router.Group("/api/scripts")
	group.GET("", h.httpAllScripts)
	group.GET("/folders", h.httpListFolders)
	group.GET("/folders/:folder", h.httpScriptsInFolder)
	group.POST("/preview", h.httpPreview)
	group.POST("/run", h.httpRun)
}

func (h *ScriptHandlers) httpListFolders(c *gin.Context) {
	folders, err := h.catalog.ListFolders(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

func (h *ScriptHandlers) httpScriptsInFolder(c *gin.Context) {
	scripts, err := h.catalog.ListScriptsInFolder(c.Request.Context(), c.Param("folder"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": scripts})
}

func (h *ScriptHandlers) httpAllScripts(c *gin.Context) {
	all, err := h.catalog.AllScripts(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (h *ScriptHandlers) httpPreview(c *gin.Context) {
	var req catalog.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	script, err := h.catalog.Preview(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"script": script})
}

type runScriptRequest struct {
	ScriptPath  string            `json:"scriptPath"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Interactive bool              `json:"interactive,omitempty"`
	User        string            `json:"user,omitempty"`
}

// httpRun resolves a catalog script and starts it through the registry.
// The working directory defaults to the script's directory.
func (h *ScriptHandlers) httpRun(c *gin.Context) {
	var req runScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	ctx := c.Request.Context()
	script, err := h.catalog.Resolve(ctx, req.ScriptPath)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	command, args := catalog.CommandFor(script, h.shell, req.Args)
	cwd := req.Cwd
	if cwd == "" {
		cwd = filepath.Dir(script.AbsolutePath)
	}
	id, err := h.processes.Start(ctx, process.StartRequest{
		Command:     command,
		Args:        args,
		Cwd:         cwd,
		Env:         req.Env,
		Interactive: req.Interactive,
		User:        req.User,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("script started",
		zap.String("process_id", id),
		zap.String("script", script.RelativePath),
		zap.String("category", script.Category))
	c.JSON(http.StatusOK, gin.H{"processId": id})
}
