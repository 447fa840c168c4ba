package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"citetrack/models"
)

func (s *Server) setupWidgetRoutes(router *gin.RouterGroup) {
	rg := router.Group("/widget")

	rg.GET("", func(c *gin.Context) {
		data, err := s.Repo.FetchWidgetData(c.Request.Context())
		if err != nil {
			s.writeError(c, "fetch widget data", err)
			return
		}
		c.JSON(http.StatusOK, data)
	})

	rg.GET("/debug", func(c *gin.Context) {
		info, err := s.Widget.DebugInfo(c.Request.Context())
		if err != nil {
			s.writeError(c, "widget debug info", err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	rg.POST("/refresh", func(c *gin.Context) {
		if err := s.Widget.Refresh(c.Request.Context()); err != nil {
			s.writeError(c, "refresh widget", err)
			return
		}
		c.JSON(http.StatusOK, s.Repo.WidgetData().Load())
	})

	rg.PUT("/selection", func(c *gin.Context) {
		var req struct {
			ScholarID string `json:"scholarId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: scholarId required"})
			return
		}
		if err := s.Repo.SetCurrentSelectedScholar(c.Request.Context(), req.ScholarID); err != nil {
			s.writeError(c, "set selection", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"selectedScholarId": req.ScholarID})
	})
}

func (s *Server) setupIntegrityRoutes(router *gin.RouterGroup) {
	rg := router.Group("/integrity")

	rg.GET("", func(c *gin.Context) {
		result, err := s.Repo.ValidateDataIntegrity(c.Request.Context())
		if err != nil {
			s.writeError(c, "validate integrity", err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	rg.POST("/repair", func(c *gin.Context) {
		report, err := s.Repo.RepairDataIntegrity(c.Request.Context())
		if err != nil {
			s.writeError(c, "repair integrity", err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func (s *Server) setupSyncRoutes(router *gin.RouterGroup) {
	rg := router.Group("/sync")

	rg.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Monitor.GetSyncStatusSummary())
	})

	rg.GET("/report", func(c *gin.Context) {
		report, err := s.Monitor.GetDetailedSyncReport(c.Request.Context())
		if err != nil {
			s.writeError(c, "sync report", err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	rg.POST("/force", func(c *gin.Context) {
		if err := s.Monitor.ForceSyncNow(c.Request.Context()); err != nil {
			s.writeError(c, "force sync", err)
			return
		}
		c.JSON(http.StatusOK, s.Monitor.GetSyncStatusSummary())
	})

	rg.POST("/pull", func(c *gin.Context) {
		if err := s.Repo.SyncFromAppGroup(c.Request.Context()); err != nil {
			s.writeError(c, "sync from shared scope", err)
			return
		}
		c.JSON(http.StatusOK, s.Repo.SyncStatus().Load())
	})

	rg.POST("/auto", func(c *gin.Context) {
		var req struct {
			Enabled *bool `json:"enabled" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: enabled required"})
			return
		}
		if err := s.Monitor.SetAutoSyncEnabled(*req.Enabled); err != nil {
			s.writeError(c, "set auto sync", err)
			return
		}
		s.Logger.Info("Auto-Sync umgeschaltet", zap.Bool("enabled", *req.Enabled))
		c.JSON(http.StatusOK, s.Monitor.GetSyncStatusSummary())
	})

	rg.POST("/reset", func(c *gin.Context) {
		s.Monitor.ResetMonitoringState()
		c.JSON(http.StatusOK, s.Monitor.GetSyncStatusSummary())
	})
}

func (s *Server) setupMigrationRoutes(router *gin.RouterGroup) {
	rg := router.Group("/migration")

	rg.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Migration.Status(c.Request.Context()))
	})

	rg.POST("/force", func(c *gin.Context) {
		report, err := s.Migration.ForceMigration(c.Request.Context())
		if err != nil {
			s.writeError(c, "force migration", err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func (s *Server) setupExportRoutes(router *gin.RouterGroup) {
	router.GET("/export", func(c *gin.Context) {
		entries, err := s.Repo.ExportEntries(c.Request.Context())
		if err != nil {
			s.writeError(c, "export", err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})

	router.POST("/import", func(c *gin.Context) {
		var entries []models.ExportEntry
		if err := c.ShouldBindJSON(&entries); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		result, err := s.Repo.ImportEntries(c.Request.Context(), entries)
		if err != nil {
			s.writeError(c, "import", err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}
