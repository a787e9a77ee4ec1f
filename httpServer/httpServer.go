package httpServer

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"rapidclip/internal/auth"
	"rapidclip/internal/clipping"
	"rapidclip/internal/metrics"
	"rapidclip/internal/snapshotter"
	"rapidclip/internal/sourcemanager"
	"rapidclip/internal/storage"
	"rapidclip/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options tunes request handling
type Options struct {
	SubscriberBuffer int           // Buffer of clipping source subscriptions
	PrepareTimeout   time.Duration // How long GET timeline waits for a pending source
}

// Server wraps the HTTP server with dependencies
type Server struct {
	router        *gin.Engine
	sourceManager *sourcemanager.Manager
	authManager   *auth.Manager
	snapshotter   *snapshotter.Snapshotter // nil disables snapshot routes
	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer
	opts          Options
}

// New creates a new HTTP server
func New(sourceManager *sourcemanager.Manager, authManager *auth.Manager, snap *snapshotter.Snapshotter,
	m *metrics.Metrics, gatherer prometheus.Gatherer, opts Options) *Server {
	if opts.SubscriberBuffer < 1 {
		opts.SubscriberBuffer = 16
	}
	if opts.PrepareTimeout <= 0 {
		opts.PrepareTimeout = 5 * time.Second
	}

	s := &Server{
		sourceManager: sourceManager,
		authManager:   authManager,
		snapshotter:   snap,
		metrics:       m,
		gatherer:      gatherer,
		opts:          opts,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.Default()
	router.Use(s.metricsMiddleware())

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.POST("/v1/clip", s.handleClip)

		api.POST("/v1/sources", s.handleCreateSource)
		api.GET("/v1/sources", s.handleListSources)
		api.GET("/v1/sources/:key", s.handleGetSource)
		api.DELETE("/v1/sources/:key", s.handleReleaseSource)
		api.POST("/v1/sources/:key/clip", s.handleCreateClip)
		api.GET("/v1/sources/:key/timeline", s.handleGetTimeline)
		api.PUT("/v1/sources/:key/timeline", s.handlePublishTimeline)
		api.GET("/v1/sources/:key/navigation", s.handleNavigation)
		api.GET("/v1/sources/:key/snapshots", s.handleListSnapshots)
		api.GET("/v1/sources/:key/snapshots/:rev", s.handleGetSnapshot)
	}

	s.router = router
}

// Handler returns the server's http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// metricsMiddleware records every request by route template
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleClip(c *gin.Context) {
	var req models.ClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clipped, err := clipping.Apply(*req.Timeline, req.Bounds())
	durationUs := models.TimeUnset
	if err == nil {
		if w, werr := clipped.GetWindow(0); werr == nil {
			durationUs = w.DurationUs
		}
	}
	s.metrics.RecordClip(clipping.Outcome(err), durationUs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, clipped)
}

func (s *Server) handleCreateSource(c *gin.Context) {
	var req models.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source, err := s.sourceManager.CreateSource(req.Key)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := s.authManager.GenerateSourceToken(source.Key, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		s.sourceManager.ReleaseSource(source.Key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	s.startSnapshots(source.Key)

	if req.Timeline != nil {
		if err := s.sourceManager.PublishTimeline(source.Key, *req.Timeline); err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, models.CreateSourceResponse{
		Key:       source.Key,
		State:     string(source.GetState()),
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleCreateClip(c *gin.Context) {
	upstreamKey := c.Param("key")

	var req models.CreateClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source, err := s.sourceManager.CreateClippingSource(req.Key, upstreamKey, req.Bounds(), s.opts.SubscriberBuffer)
	if err != nil {
		writeError(c, err)
		return
	}

	s.startSnapshots(source.Key)

	c.JSON(http.StatusCreated, s.sourceToInfo(source))
}

func (s *Server) handleListSources(c *gin.Context) {
	sources := s.sourceManager.GetAllSources()
	sort.Slice(sources, func(i, j int) bool { return sources[i].Key < sources[j].Key })

	infos := make([]models.SourceInfo, len(sources))
	for i, source := range sources {
		infos[i] = s.sourceToInfo(source)
	}

	c.JSON(http.StatusOK, models.SourceListResponse{
		Sources: infos,
		Total:   len(infos),
	})
}

func (s *Server) handleGetSource(c *gin.Context) {
	source, exists := s.sourceManager.GetSource(c.Param("key"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}

	c.JSON(http.StatusOK, s.sourceToInfo(source))
}

func (s *Server) handleReleaseSource(c *gin.Context) {
	key := c.Param("key")

	if err := s.sourceManager.ReleaseSource(key); err != nil {
		writeError(c, err)
		return
	}
	s.authManager.RevokeSourceTokens(key)
	if s.snapshotter != nil {
		s.snapshotter.Forget(key)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "source released",
		"key":     key,
	})
}

func (s *Server) handleGetTimeline(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.PrepareTimeout)
	defer cancel()

	timeline, err := s.sourceManager.WaitForTimeline(ctx, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handlePublishTimeline(c *gin.Context) {
	key := c.Param("key")

	if err := s.authManager.ValidateToken(c.Query("token"), key); err != nil {
		writeError(c, err)
		return
	}

	source, exists := s.sourceManager.GetSource(key)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	if source.UpstreamKey != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "clipping sources follow their upstream"})
		return
	}

	var timeline models.Timeline
	if err := c.ShouldBindJSON(&timeline); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.sourceManager.PublishTimeline(key, timeline); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.sourceToInfo(source))
}

func (s *Server) handleNavigation(c *gin.Context) {
	source, exists := s.sourceManager.GetSource(c.Param("key"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}

	index, err := strconv.Atoi(c.DefaultQuery("index", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window index"})
		return
	}
	mode, err := models.ParseRepeatMode(c.Query("repeatMode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeline, ok := source.GetTimeline()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "source has no timeline yet"})
		return
	}
	if _, err := timeline.GetWindow(index); err != nil {
		writeError(c, err)
		return
	}

	resp := models.NavigationResponse{
		WindowIndex: index,
		RepeatMode:  mode.String(),
	}
	if prev, ok := timeline.PreviousWindowIndex(index, mode); ok {
		resp.Previous = &prev
	}
	if next, ok := timeline.NextWindowIndex(index, mode); ok {
		resp.Next = &next
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	if s.snapshotter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshots are disabled"})
		return
	}

	snapshots, err := s.snapshotter.ListRevisions(c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshots": snapshots,
		"total":     len(snapshots),
	})
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	if s.snapshotter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshots are disabled"})
		return
	}

	key := c.Param("key")
	revParam := c.Param("rev")

	var (
		snapshot models.Snapshot
		timeline models.Timeline
		err      error
	)
	if revParam == "latest" {
		snapshot, timeline, err = s.snapshotter.GetLatest(key)
	} else {
		rev, perr := strconv.ParseUint(revParam, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid revision"})
			return
		}
		snapshot, timeline, err = s.snapshotter.GetRevision(key, rev)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshot": snapshot,
		"timeline": timeline,
	})
}

// Helper functions

func (s *Server) startSnapshots(key string) {
	if s.snapshotter == nil {
		return
	}
	if err := s.snapshotter.StartTracking(key); err != nil {
		log.Printf("Failed to start snapshots for source %s: %v", key, err)
	}
}

func (s *Server) sourceToInfo(source *models.Source) models.SourceInfo {
	stats := source.GetStats()
	info := models.SourceInfo{
		Key:                source.Key,
		State:              string(source.GetState()),
		UpstreamKey:        source.UpstreamKey,
		Clip:               source.Clip,
		CreatedAt:          source.CreatedAt.Format(time.RFC3339),
		TimelinesPublished: stats.TimelinesPublished,
		DroppedUpdates:     stats.DroppedUpdates,
	}

	if prepared := source.GetPreparedAt(); !prepared.IsZero() {
		info.PreparedAt = prepared.Format(time.RFC3339)
	}

	if timeline, ok := source.GetTimeline(); ok {
		info.WindowCount = timeline.GetWindowCount()
		info.PeriodCount = timeline.GetPeriodCount()
		if window, err := timeline.GetWindow(0); err == nil && window.DurationUs != models.TimeUnset {
			durationUs := window.DurationUs
			info.DurationUs = &durationUs
		}
	}

	if err := source.Err(); err != nil {
		info.Error = err.Error()
	}

	return info
}

// writeError maps domain errors to HTTP status codes
func writeError(c *gin.Context, err error) {
	var clipErr *clipping.Error
	if errors.As(err, &clipErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"reason": clipErr.Reason,
		})
		return
	}

	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrIndexOutOfRange),
		errors.Is(err, sourcemanager.ErrInvalidSourceKey),
		errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrWrongSource):
		return http.StatusUnauthorized
	case errors.Is(err, sourcemanager.ErrSourceNotFound),
		errors.Is(err, snapshotter.ErrNotTracking),
		errors.Is(err, snapshotter.ErrRevisionNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sourcemanager.ErrSourceExists),
		errors.Is(err, sourcemanager.ErrSourceClosed):
		return http.StatusConflict
	case errors.Is(err, sourcemanager.ErrTooManySources):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
