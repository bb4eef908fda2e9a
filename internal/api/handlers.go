package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autoliker/internal/dispatch"
	"autoliker/internal/domain"

	"github.com/gin-gonic/gin"
)

const defaultCleanupHours = 3

type runCycleResponse struct {
	Success        bool                   `json:"success"`
	Message        string                 `json:"message"`
	Interrupted    bool                   `json:"interrupted,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ActiveConfigs  int                    `json:"activeConfigs"`
	DueAccounts    int                    `json:"dueAccounts"`
	TotalProcessed int                    `json:"totalProcessed"`
	TotalLiked     int                    `json:"totalLiked"`
	TotalSkipped   int                    `json:"totalSkipped"`
	TotalErrors    int                    `json:"totalErrors"`
	PerAccount     []domain.AccountResult `json:"perAccount"`
	CacheCleared   int                    `json:"cacheCleared"`
}

type statusResponse struct {
	Success       bool                   `json:"success"`
	ActiveConfigs int                    `json:"activeConfigs"`
	Configs       []domain.AccountStatus `json:"configs"`
}

func (s *Server) runCycle(c *gin.Context) {
	ctx, cancel := s.detached(c)
	defer cancel()

	summary, err := s.dispatcher.RunCycle(ctx)
	interrupted := errors.Is(err, dispatch.ErrCycleInterrupted)
	if err != nil && !interrupted {
		s.log.ErrorContext(ctx, "Failed to run cycle",
			"error", err)

		errorResponse(c, http.StatusInternalServerError, err)

		return
	}

	message := "Polling cycle completed"
	errText := ""
	switch {
	case interrupted:
		s.log.WarnContext(ctx, "Cycle is interrupted",
			"error", err,
			"accountsProcessed", len(summary.PerAccount),
			"dueAccounts", summary.DueAccounts)

		message = "Polling cycle interrupted"
		errText = err.Error()
	case summary.ActiveConfigs == 0:
		message = "No active configurations"
	}

	if summary.PerAccount == nil {
		summary.PerAccount = []domain.AccountResult{}
	}

	c.JSON(http.StatusOK, runCycleResponse{
		Success:        true,
		Message:        message,
		Interrupted:    interrupted,
		Error:          errText,
		ActiveConfigs:  summary.ActiveConfigs,
		DueAccounts:    summary.DueAccounts,
		TotalProcessed: summary.TotalProcessed,
		TotalLiked:     summary.TotalLiked,
		TotalSkipped:   summary.TotalSkipped,
		TotalErrors:    summary.TotalErrors,
		PerAccount:     summary.PerAccount,
		CacheCleared:   summary.CacheCleared,
	})
}

func (s *Server) status(c *gin.Context) {
	switch c.Query("action") {
	case "stats":
		s.statsAction(c)
	case "cleanup":
		s.cleanupAction(c)
	default:
		s.statusAction(c)
	}
}

func (s *Server) statusAction(c *gin.Context) {
	ctx := c.Request.Context()

	statuses, err := s.dispatcher.Status(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to get status",
			"error", err)

		errorResponse(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Success:       true,
		ActiveConfigs: len(statuses),
		Configs:       statuses,
	})
}

func (s *Server) statsAction(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to collect stats",
			"error", err)

		errorResponse(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
		"message": "Database statistics retrieved",
	})
}

func (s *Server) cleanupAction(c *gin.Context) {
	hours := defaultCleanupHours

	if raw := strings.TrimSpace(c.Query("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, fmt.Errorf("invalid hours %q", raw))

			return
		}

		hours = parsed
	}

	ctx, cancel := s.detached(c)
	defer cancel()

	deleted, err := s.ledger.Cleanup(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to clean up liked records",
			"error", err,
			"hours", hours)

		errorResponse(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cleanup": gin.H{"deleted": deleted},
		"message": fmt.Sprintf("Cleaned up %d liked casts older than %d hours", deleted, hours),
	})
}

func (s *Server) runAccount(c *gin.Context) {
	accountKey := strings.TrimSpace(c.Param("accountKey"))
	if accountKey == "" {
		errorResponse(c, http.StatusBadRequest, errors.New("account key is empty"))

		return
	}

	ctx, cancel := s.detached(c)
	defer cancel()

	result, err := s.dispatcher.RunAccount(ctx, accountKey)
	switch {
	case isNotFound(err):
		errorResponse(c, http.StatusNotFound, err)

		return
	case errors.Is(err, dispatch.ErrAccountInactive):
		errorResponse(c, http.StatusConflict, err)

		return
	case err != nil:
		s.log.ErrorContext(ctx, "Failed to run account",
			"error", err,
			"accountKey", accountKey)

		errorResponse(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}
