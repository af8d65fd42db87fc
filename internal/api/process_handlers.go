package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

// ProcessHandlers serves the process registry.
type ProcessHandlers struct {
	processes ProcessService
	logger    *logger.Logger
}

// RegisterProcessRoutes mounts the process endpoints under /api/processes.
func RegisterProcessRoutes(router *gin.Engine, processes ProcessService, log *logger.Logger) {
	h := &ProcessHandlers{
		processes: processes,
		logger:    log.WithFields(zap.String("component", "process-handlers")),
	}
	group := router.Group("/api/processes")
	group.POST("", h.httpStartProcess)
	group.GET("", h.httpListProcesses)
	group.GET("/history", h.httpHistory)
	group.GET("/:id", h.httpGetProcess)
	group.POST("/:id/input", h.httpWriteInput)
	group.DELETE("/:id", h.httpKillProcess)
}

func (h *ProcessHandlers) httpStartProcess(c *gin.Context) {
	var req process.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	id, err := h.processes.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processId": id})
}

func (h *ProcessHandlers) httpGetProcess(c *gin.Context) {
	id := c.Param("id")
	info, err := h.processes.GetInfo(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	output, err := h.processes.GetOutput(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if output == nil {
		output = []process.OutputChunk{}
	}
	c.JSON(http.StatusOK, gin.H{"info": info, "output": output})
}

type writeInputRequest struct {
	Input *string `json:"input"`
}

func (h *ProcessHandlers) httpWriteInput(c *gin.Context) {
	var req writeInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if req.Input == nil {
		respondBadRequest(c, "input is required")
		return
	}
	if err := h.processes.Write(c.Request.Context(), c.Param("id"), *req.Input); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ProcessHandlers) httpKillProcess(c *gin.Context) {
	if err := h.processes.Kill(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ProcessHandlers) httpListProcesses(c *gin.Context) {
	records, err := h.processes.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": nonNilRecords(records)})
}

func (h *ProcessHandlers) httpHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := h.processes.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": nonNilRecords(records)})
}

func nonNilRecords(records []process.ProcessRecord) []process.ProcessRecord {
	if records == nil {
		return []process.ProcessRecord{}
	}
	return records
}
