package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmops/pondsync/pkg/ponds"
)

const (
	defaultHistoryLimit = 50
	healthTimeout       = 2 * time.Second
)

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.Journal != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := s.cfg.Journal.HealthCheck(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Journal health check failed")
			resp["status"] = "degraded"
			resp["journal"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["journal"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listPonds(c *gin.Context) {
	list, err := s.manager.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ponds": list})
}

func (s *Server) createPond(c *gin.Context) {
	var req ponds.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, ponds.NewValidationError("invalid request body: %v", err))
		return
	}

	res, err := s.manager.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	msg := fmt.Sprintf("Created pond '%s' with %d sequences.", res.Point.Name, res.Created)
	if res.Resumed {
		msg = fmt.Sprintf("Completed pond '%s' with %d missing sequences.", res.Point.Name, res.Created)
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
		"point":   res.Point,
		"created": res.Created,
		"resumed": res.Resumed,
	})
}

func (s *Server) updatePond(c *gin.Context) {
	id, ok := s.pointID(c)
	if !ok {
		return
	}

	var req ponds.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, ponds.NewValidationError("invalid request body: %v", err))
		return
	}

	res, err := s.manager.Update(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, err)
		return
	}

	msg := "Pond and aggregate sequence updated."
	if res.Aggregate.Action == ponds.AggregateSkipped {
		msg = "Pond updated, but the aggregate sequence was not modified."
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   msg,
		"point":     res.Point,
		"aggregate": res.Aggregate,
	})
}

func (s *Server) deletePond(c *gin.Context) {
	id, ok := s.pointID(c)
	if !ok {
		return
	}

	if _, err := s.manager.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) runSweep(c *gin.Context) {
	res, err := s.sweeper.Sweep(c.Request.Context(), ponds.TriggerManual)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(c, ponds.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	ops, err := s.cfg.History.ListOperations(ctx, c.Query("pond"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	runs, err := s.cfg.History.ListSweepRuns(ctx, limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"operations": ops, "sweeps": runs})
}

func (s *Server) pointID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(c, ponds.NewValidationError("invalid point id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
