package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scriptdeck/scriptdeck/internal/common/httpmw"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
)

const serverName = "scriptdeck"

// Deps are the services the router exposes.
type Deps struct {
	Processes    ProcessService
	Events       EventSource
	Scripts      ScriptCatalog
	Repositories RepositoryService
	// Shell runs .ps1 scripts. Empty means pwsh.
	Shell     string
	Heartbeat time.Duration
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.OtelTracing(serverName))
	router.Use(httpmw.RequestLogger(log, serverName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})

	RegisterProcessRoutes(router, deps.Processes, log)
	RegisterStreamRoutes(router, deps.Events, deps.Processes, deps.Heartbeat, log)
	RegisterScriptRoutes(router, deps.Scripts, deps.Processes, deps.Shell, log)
	RegisterRepositoryRoutes(router, deps.Repositories, log)
	return router
}

// corsMiddleware allows browser clients on other origins, including the
// websocket upgrade headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
