package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	pima "github.com/caarlos0/pima-bridge"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

type api struct {
	alarm         Alarm
	disableDisarm bool
}

func newRouter(cfg Config, alarm Alarm, events *hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		state := alarm.State()
		code := http.StatusOK
		if state != pima.StateReady {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"panel": state.String()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := api{alarm: alarm, disableDisarm: cfg.DisableDisarm}
	g := r.Group("/pima", apiKeyAuth(cfg.APIKey))
	g.GET("/status", h.status)
	g.GET("/outputs", h.outputs)
	g.POST("/arm", rateLimit(cfg.APIRate, cfg.APIBurst), h.arm)
	if events != nil {
		g.GET("/events", gin.WrapH(events))
	}
	return r
}

func (h api) status(c *gin.Context) {
	state, err := h.alarm.GetStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h api) outputs(c *gin.Context) {
	outputs, err := h.alarm.GetOutputs(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outputs})
}

func (h api) arm(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	}
	req, err := decodeArmRequest(body)
	if err != nil {
		abortWithError(c, err)
		return
	}
	mode, partitions, err := req.parse(h.disableDisarm)
	if err != nil {
		abortWithError(c, err)
		return
	}
	log.Info("arm requested", "mode", mode, "partitions", partitions, "remote", c.ClientIP())
	state, err := h.alarm.SetArmMode(c.Request.Context(), mode, partitions)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func abortWithError(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errDisarmDisabled):
		return http.StatusForbidden
	case errors.Is(err, pima.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pima.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pima.ErrConnection),
		errors.Is(err, pima.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.Query("api_key")
		if got == "" {
			got = c.GetHeader("X-API-Key")
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			log.Warn("unauthorized request", "path", c.Request.URL.Path, "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func rateLimit(r float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		log.Debug(
			"request",
			"id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}
