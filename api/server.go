package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"chatwarden/model"
	"chatwarden/moderation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// IncidentLister reads the raid audit log.
type IncidentLister interface {
	ListIncidents(ctx context.Context, chatID string, limit int) ([]model.RaidIncident, error)
}

// ErrMissingToken is returned by New when no API token is configured.
var ErrMissingToken = errors.New("api token is required to serve the admin api")

// Server exposes the admin HTTP surface. Every route except /healthz needs
// the bearer token. Mutating routes then go through the same authorisation as
// slash commands, with the caller naming the moderator.
type Server struct {
	engine    *gin.Engine
	actions   *moderation.Actions
	ranks     RankAdmin
	incidents IncidentLister
	started   time.Time
	token     string
	log       *slog.Logger
}

func New(token string, actions *moderation.Actions, ranks RankAdmin, incidents IncidentLister, logger *slog.Logger) (*Server, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	s := &Server{
		engine:    g,
		actions:   actions,
		ranks:     ranks,
		incidents: incidents,
		started:   time.Now(),
		token:     token,
		log:       logger.With("component", "api"),
	}
	s.attachRoutes()
	return s, nil
}

func (s *Server) attachRoutes() {
	s.engine.GET("/healthz", s.health)
	authed := s.engine.Group("/", requireToken(s.token))
	authed.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chats := authed.Group("/chats/:chat")
	chats.GET("/users/:user/punishments", s.listPunishments)
	chats.POST("/punishments", s.issue)
	chats.DELETE("/users/:user/punishments/:kind", s.revoke)
	chats.GET("/incidents", s.listIncidents)
	chats.GET("/ranks", s.listRanks)
	chats.PUT("/ranks/:user", s.setRank)
	chats.DELETE("/ranks/:user", s.removeRank)
	chats.PUT("/overrides", s.setOverride)
	chats.DELETE("/overrides/:rank/:capability", s.deleteOverride)
}

// Handler returns the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin api stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down admin api: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	out := gin.H{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}
	if n, err := cpu.Counts(true); err == nil {
		out["cpu_count"] = n
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		out["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["memory_used_percent"] = vm.UsedPercent
	}
	if info, err := host.Info(); err == nil {
		out["os"] = info.Platform + " " + info.PlatformVersion
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listPunishments(c *gin.Context) {
	chatID, userID := c.Param("chat"), c.Param("user")
	store := s.actions.Manager().Store()

	active, err := store.ListActiveByUser(c.Request.Context(), chatID, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	history, err := store.History(c.Request.Context(), chatID, userID, queryLimit(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": orEmpty(active), "history": orEmpty(history)})
}

const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

type issueRequest struct {
	Kind            string `json:"kind" binding:"required,oneof=mute ban kick warn"`
	TargetID        string `json:"target_id" binding:"required"`
	TargetName      string `json:"target_name"`
	ModeratorID     string `json:"moderator_id" binding:"required"`
	ModeratorName   string `json:"moderator_name"`
	DurationSeconds *int64 `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

func (s *Server) issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	apply := moderation.ApplyRequest{
		ChatID:    c.Param("chat"),
		Kind:      kind,
		Target:    model.NewMember(req.TargetID, req.TargetName, req.TargetName, false),
		Moderator: model.NewMember(req.ModeratorID, req.ModeratorName, req.ModeratorName, false),
		Reason:    req.Reason,
	}
	if req.DurationSeconds != nil {
		if *req.DurationSeconds > maxDurationSeconds {
			c.JSON(http.StatusBadRequest, gin.H{"err": "duration_seconds is too large"})
			return
		}
		d := time.Duration(*req.DurationSeconds) * time.Second
		apply.Duration = &d
	}

	p, err := s.actions.Issue(c.Request.Context(), apply)
	if err != nil && moderation.IsExternal(err) {
		c.JSON(http.StatusAccepted, gin.H{"punishment": p, "warning": err.Error()})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"punishment": p})
}

func (s *Server) revoke(c *gin.Context) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	moderatorID := c.Query("moderator")
	if moderatorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"err": "moderator query parameter is required"})
		return
	}

	target := model.NewMember(c.Param("user"), "", "", false)
	moderator := model.NewMember(moderatorID, "", "", false)
	ok, err := s.actions.Revoke(c.Request.Context(), c.Param("chat"), kind, target, moderator)
	if err != nil && moderation.IsExternal(err) {
		c.JSON(http.StatusAccepted, gin.H{"revoked": ok, "warning": err.Error()})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"err": "no active " + string(kind)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (s *Server) listIncidents(c *gin.Context) {
	incidents, err := s.incidents.ListIncidents(c.Request.Context(), c.Param("chat"), queryLimit(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": orEmpty(incidents)})
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"err": err.Error()})
	if statusFor(err) >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
	}
}

func statusFor(err error) int {
	var storeErr *moderation.StoreError
	switch {
	case errors.Is(err, moderation.ErrNotPermitted), errors.Is(err, moderation.ErrHierarchy):
		return http.StatusForbidden
	case errors.Is(err, moderation.ErrInvalidKind), errors.Is(err, moderation.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.As(err, &storeErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
