package controller

import (
	"net/http"

	"codejudge/internal/judge/health"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthSource reports the sandbox health flag.
type HealthSource interface {
	Snapshot() health.Snapshot
}

// Routes bundles everything the HTTP surface serves.
type Routes struct {
	Judge    *JudgeController
	Problems *ProblemController
	Health   HealthSource
	Gatherer prometheus.Gatherer
	// API middleware such as rate limiting applies to /api only.
	API []gin.HandlerFunc
}

// Register mounts all routes on r.
func (rt Routes) Register(r *gin.Engine) {
	r.GET("/healthz", rt.healthz)
	if rt.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1", rt.API...)
	if rt.Judge != nil {
		api.POST("/submissions", rt.Judge.Submit)
		api.POST("/submissions/async", rt.Judge.SubmitAsync)
		api.GET("/submissions/:id", rt.Judge.GetStatus)
		api.GET("/submissions/:id/watch", rt.Judge.Watch)
		api.POST("/submissions/:id/cancel", rt.Judge.Cancel)
		api.POST("/runs", rt.Judge.Run)
		api.GET("/languages", rt.Judge.Languages)
	}
	if rt.Problems != nil {
		api.GET("/problems", rt.Problems.List)
		api.GET("/problems/:id", rt.Problems.Get)
		api.POST("/problems/:id/submissions", rt.Problems.Submit)
	}
}

// healthz answers 200 while the sandbox is serving and 503 after a systemic alert.
func (rt Routes) healthz(c *gin.Context) {
	if rt.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	snap := rt.Health.Snapshot()
	body := gin.H{"status": "ok", "since": snap.Since}
	code := http.StatusOK
	if !snap.Serving {
		code = http.StatusServiceUnavailable
		body["status"] = "sandbox_unavailable"
		body["alert"] = snap.Alert
	}
	c.JSON(code, body)
}
