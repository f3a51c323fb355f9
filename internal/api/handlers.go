package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"futures-agent/internal/auth"
	"futures-agent/internal/command"
	"futures-agent/internal/position"
	"futures-agent/internal/state"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if snap, err := s.deps.Snapshots.Latest(); err == nil {
		status["last_cycle"] = snap.Cycle
		status["last_cycle_at"] = snap.Timestamp
		status["halted"] = snap.Halted
	}
	c.JSON(http.StatusOK, status)
}

// latest writes a 503 and returns false when no cycle has completed yet
func (s *Server) latest(c *gin.Context) (state.Snapshot, bool) {
	snap, err := s.deps.Snapshots.Latest()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "NO_SNAPSHOT",
			"message": "no cycle has completed yet",
		})
		return state.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, ok := s.latest(c)
	if !ok {
		return
	}
	resp := gin.H{
		"snapshot":   snap,
		"ws_clients": s.hub.GetClientCount(),
	}
	if s.deps.Breaker != nil {
		resp["circuit_breaker"] = s.deps.Breaker.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	snap, ok := s.latest(c)
	if !ok {
		return
	}
	positions := make([]position.State, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handleScan(c *gin.Context) {
	snap, ok := s.latest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"market_scan": snap.MarketScan, "sentiment": snap.Sentiment, "cycle": snap.Cycle})
}

func (s *Server) handleBlacklist(c *gin.Context) {
	snap, ok := s.latest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"blacklist": snap.Blacklist, "count": len(snap.Blacklist)})
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	if s.deps.Breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_CONFIGURED", "message": "circuit breaker not attached"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Breaker.GetStats())
}

// handleCloseAll queues a close-all; the agent runs it at the start of its
// next cycle
func (s *Server) handleCloseAll(c *gin.Context) {
	if s.deps.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "NO_COMMAND_CHANNEL", "message": "commands are not available"})
		return
	}
	cmd := command.NewCloseAll("api:" + auth.GetSubject(c))
	if err := s.deps.Commands.Submit(c.Request.Context(), cmd); err != nil {
		s.logger.Error().Err(err).Msg("Failed to queue close-all")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SUBMIT_FAILED", "message": err.Error()})
		return
	}
	s.logger.Warn().Str("issuer", cmd.Issuer).Msg("Close-all queued")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "command": cmd})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.deps.Breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_CONFIGURED", "message": "circuit breaker not attached"})
		return
	}
	operator := auth.GetSubject(c)
	if !s.deps.Breaker.Reset(operator) {
		c.JSON(http.StatusConflict, gin.H{"error": "NOT_HALTED", "message": "circuit breaker is not tripped"})
		return
	}
	s.logger.Warn().Str("operator", operator).Msg("Circuit breaker reset")
	c.JSON(http.StatusOK, gin.H{"reset": true, "circuit_breaker": s.deps.Breaker.GetStats()})
}
