package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tavolo-project/tavolo/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "tavolo",
		"version": "1.0.0",
	})
}

// handleStatus returns the overall server status.
func (s *Server) handleStatus(c *gin.Context) {
	srvCfg := s.cfg.GetServer()
	snap := s.game.TableSnapshot()

	c.JSON(http.StatusOK, gin.H{
		"motd":         srvCfg.Motd,
		"max_players":  srvCfg.MaxPlayers,
		"players":      len(s.game.Roster()),
		"online":       s.game.ClientCount(),
		"game_started": s.game.GameStarted(),
		"phase":        snap.Phase,
	})
}

// handlePlayers returns the current roster. Access codes never leave the
// registry, so the roster entries are safe to expose as-is.
func (s *Server) handlePlayers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"players": s.game.Roster(),
	})
}

// handleTable returns the last published table state.
func (s *Server) handleTable(c *gin.Context) {
	c.JSON(http.StatusOK, s.game.TableSnapshot())
}

// handleHealth returns host resource usage.
func (s *Server) handleHealth(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	resp := gin.H{
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}

	c.JSON(http.StatusOK, resp)
}

// handleMatches returns the most recent archived matches.
func (s *Server) handleMatches(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"matches": []any{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	matches, err := s.store.RecentMatches(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read match history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}
