// Package api stellt die HTTP-Schnittstelle des Dienstes bereit.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"citetrack/services"
)

// Server bündelt die Dienste, auf die die Handler zugreifen.
type Server struct {
	Repo      *services.Repository
	Widget    *services.WidgetService
	Monitor   *services.SyncMonitor
	Migration *services.MigrationService
	Logger    *zap.Logger

	// APISecretKey schützt alle Routen außer /metrics. Leer deaktiviert die Prüfung.
	APISecretKey string
}

func apiKeyAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// NewRouter registriert alle Routen.
func NewRouter(s *Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/")
	protected.Use(apiKeyAuthMiddleware(s.APISecretKey))

	s.setupScholarRoutes(protected)
	s.setupWidgetRoutes(protected)
	s.setupIntegrityRoutes(protected)
	s.setupSyncRoutes(protected)
	s.setupMigrationRoutes(protected)
	s.setupExportRoutes(protected)
	return router
}

// writeError übersetzt die Fehlercodes des Repositorys in HTTP-Status.
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch services.CodeOf(err) {
	case services.CodeNotFound:
		status = http.StatusNotFound
	case services.CodeInvalidData:
		status = http.StatusBadRequest
	case services.CodeSyncFailure:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Request fehlgeschlagen", zap.String("op", op), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": services.CodeOf(err)})
}
