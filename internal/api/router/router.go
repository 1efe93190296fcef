package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mnboos/job-graph/internal/api/handler"
)

const healthTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.Health))

	jobHandler := handler.NewJobHandler(deps)
	scrapeHandler := handler.NewScrapeHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:id", jobHandler.GetJob)
		}

		scrapes := v1.Group("/scrapes")
		{
			scrapes.POST("", scrapeHandler.CreateScrape)
			scrapes.GET("/:run_id", scrapeHandler.GetScrape)
		}
	}

	return r
}

func healthHandler(checks map[string]func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		components := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":     overall,
			"service":    "job-graph-api",
			"components": components,
		})
	}
}
