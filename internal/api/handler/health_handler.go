package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 依赖探活
type Pinger func(ctx context.Context) error

// Health 健康检查，任一依赖失败返回 503
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func Health(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		c.JSON(status, body)
	}
}
