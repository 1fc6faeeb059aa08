package main

import (
	"net/http"
	"time"

	"github.com/gammadia/warden/fleet"
	"github.com/gammadia/warden/server/log"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	})

	router.POST("/demand", handleDemand)
	router.POST("/tick", handleTick)
	router.GET("/status", handleStatus)
	router.GET("/healthz", handleHealthz)

	return router
}

type demandRequest struct {
	Label          string `json:"label" binding:"required"`
	ExcessWorkload int    `json:"excess_workload"`
}

// handleDemand injects workload demand for a label, the way the host
// scheduler would, and reports the nodes planned in response.
func handleDemand(c *gin.Context) {
	var req demandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !controller.CanProvision(req.Label) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no template for label '" + req.Label + "'"})
		return
	}

	planned := controller.Provision(c.Request.Context(), req.Label, req.ExcessWorkload)
	c.JSON(http.StatusAccepted, gin.H{
		"planned": lo.Map(planned, func(p *fleet.PlannedNode, _ int) gin.H {
			return gin.H{"name": p.Name, "executors": p.Executors}
		}),
	})
}

// handleTick forces an immediate sweep, without waiting for the next
// scheduled one.
func handleTick(c *gin.Context) {
	driver.Tick(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"message": "Tick completed"})
}

func handleStatus(c *gin.Context) {
	status := snapshotStatus()
	c.JSON(http.StatusOK, gin.H{
		"started_at":    status.StartedAt,
		"provider":      status.Provider,
		"max_instances": status.MaxInstances,
		"labels":        status.Labels,
		"nodes":         status.Nodes,
		"in_flight":     controller.InFlight(),
	})
}

func handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
