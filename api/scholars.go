package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"citetrack/models"
)

func (s *Server) setupScholarRoutes(router *gin.RouterGroup) {
	rg := router.Group("/scholars")

	rg.GET("", func(c *gin.Context) {
		scholars, err := s.Repo.FetchScholars(c.Request.Context())
		if err != nil {
			s.writeError(c, "fetch scholars", err)
			return
		}
		c.JSON(http.StatusOK, scholars)
	})

	rg.DELETE("", func(c *gin.Context) {
		if err := s.Repo.DeleteAllScholars(c.Request.Context()); err != nil {
			s.writeError(c, "delete all scholars", err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.GET("/:id", func(c *gin.Context) {
		scholar, err := s.Repo.FetchScholar(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.writeError(c, "fetch scholar", err)
			return
		}
		c.JSON(http.StatusOK, scholar)
	})

	// PUT legt an oder aktualisiert; die ID kommt immer aus dem Pfad.
	rg.PUT("/:id", func(c *gin.Context) {
		var scholar models.Scholar
		if err := c.ShouldBindJSON(&scholar); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		scholar.ID = c.Param("id")
		scholar.RowID = 0

		ctx := c.Request.Context()
		if err := s.Repo.SaveScholar(ctx, scholar); err != nil {
			s.writeError(c, "save scholar", err)
			return
		}
		saved, err := s.Repo.FetchScholar(ctx, scholar.ID)
		if err != nil {
			s.writeError(c, "fetch scholar", err)
			return
		}
		c.JSON(http.StatusOK, saved)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := s.Repo.DeleteScholar(c.Request.Context(), c.Param("id")); err != nil {
			s.writeError(c, "delete scholar", err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Zeitgrenzen als RFC3339, beide optional und inklusiv.
	rg.GET("/:id/history", func(c *gin.Context) {
		from, ok := parseTimeQuery(c, "from")
		if !ok {
			return
		}
		to, ok := parseTimeQuery(c, "to")
		if !ok {
			return
		}
		history, err := s.Repo.FetchCitationHistory(c.Request.Context(), c.Param("id"), from, to)
		if err != nil {
			s.writeError(c, "fetch history", err)
			return
		}
		c.JSON(http.StatusOK, history)
	})

	rg.POST("/:id/history", func(c *gin.Context) {
		var req struct {
			CitationCount *int       `json:"citationCount" binding:"required"`
			Timestamp     *time.Time `json:"timestamp"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: citationCount required"})
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		if _, err := s.Repo.FetchScholar(ctx, id); err != nil {
			s.writeError(c, "fetch scholar", err)
			return
		}
		entry := models.CitationHistory{ScholarID: id, CitationCount: *req.CitationCount}
		if req.Timestamp != nil {
			entry.Timestamp = *req.Timestamp
		}
		saved, err := s.Repo.SaveCitationHistory(ctx, entry)
		if err != nil {
			s.writeError(c, "save history", err)
			return
		}
		c.JSON(http.StatusCreated, saved)
	})

	rg.DELETE("/:id/history", func(c *gin.Context) {
		if err := s.Repo.DeleteCitationHistory(c.Request.Context(), c.Param("id")); err != nil {
			s.writeError(c, "delete history", err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.GET("/:id/growth", func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer"})
			return
		}
		growth, err := s.Repo.FetchCitationGrowth(c.Request.Context(), c.Param("id"), days)
		if err != nil {
			s.writeError(c, "fetch growth", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"growth": growth})
	})

	rg.GET("/:id/growth/multi", func(c *gin.Context) {
		growth, err := s.Repo.FetchMultiPeriodGrowth(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.writeError(c, "fetch multi-period growth", err)
			return
		}
		c.JSON(http.StatusOK, growth)
	})

	router.GET("/statistics", func(c *gin.Context) {
		stats, err := s.Repo.FetchDataStatistics(c.Request.Context())
		if err != nil {
			s.writeError(c, "fetch statistics", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC3339"})
		return nil, false
	}
	return &t, true
}
