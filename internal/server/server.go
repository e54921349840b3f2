package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"marecast/internal/grid"
	"marecast/internal/metrics"
	"marecast/internal/model"
	"marecast/internal/online"
)

// Backend is what the HTTP surface needs from the forecasting client.
type Backend interface {
	Predict(ctx context.Context, req online.Request) (model.Prediction, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	GetForecast(ctx context.Context, runID string) (model.ForecastRecord, bool, error)
}

type Config struct {
	Backend Backend
	// Dataset, when set, is served by the data grid route.
	Dataset  SnapshotSource
	Snapshot SnapshotOptions
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

type Server struct {
	backend  Backend
	dataset  SnapshotSource
	snapshot SnapshotOptions
	metrics  *metrics.Recorder
	logger  *slog.Logger
	router  *gin.Engine
}

func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("server backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		backend:  cfg.Backend,
		dataset:  cfg.Dataset,
		snapshot: cfg.Snapshot,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if s.metrics != nil {
		router.Use(s.metrics.Middleware())
	}
	s.router = router
	s.registerRoutes()
	return s, nil
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.POST("/predict_next_step", s.predictNextStep)
		api.GET("/runs", s.listRuns)
		api.GET("/forecasts/:run_id", s.getForecast)
		if s.dataset != nil {
			api.POST("/data_grid_hybrid", s.getDataGrid)
		}
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) predictNextStep(c *gin.Context) {
	var req online.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if _, err := grid.ParseDate(req.Date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Conditions == nil {
		req.Conditions = map[string]any{}
	}
	record, err := s.backend.Predict(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("prediction failed", "lat", req.Lat, "lon", req.Lon, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

type runSummary struct {
	RunID     string    `json:"run_id"`
	Factor    string    `json:"factor"`
	Status    string    `json:"status"`
	ModelKind string    `json:"model_kind"`
	BestScore float64   `json:"best_score"`
	Features  int       `json:"features"`
	Forecasts []string  `json:"forecast_dates"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.backend.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, runSummary{
			RunID:     run.RunID,
			Factor:    run.Factor,
			Status:    run.Status,
			ModelKind: run.ModelKind,
			BestScore: run.BestScore,
			Features:  len(run.Features),
			Forecasts: run.ForecastDates,
			CreatedAt: run.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) getForecast(c *gin.Context) {
	box, err := parseBBox(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, ok, err := s.backend.GetForecast(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "forecast not found"})
		return
	}
	payload, err := PackForecast(record, box)
	if err != nil {
		if errors.Is(err, grid.ErrEmptySelection) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", payload)
}

type gridRequest struct {
	MinLat *float64 `json:"min_lat"`
	MaxLat *float64 `json:"max_lat"`
	MinLon *float64 `json:"min_lon"`
	MaxLon *float64 `json:"max_lon"`
	Date   string   `json:"date" binding:"required"`
}

func (r gridRequest) bbox() *grid.BBox {
	if r.MinLat == nil && r.MaxLat == nil && r.MinLon == nil && r.MaxLon == nil {
		return nil
	}
	bound := func(v *float64, fallback float64) float64 {
		if v == nil {
			return fallback
		}
		return *v
	}
	return &grid.BBox{
		MinLat: bound(r.MinLat, math.Inf(-1)),
		MaxLat: bound(r.MaxLat, math.Inf(1)),
		MinLon: bound(r.MinLon, math.Inf(-1)),
		MaxLon: bound(r.MaxLon, math.Inf(1)),
	}
}

// getDataGrid packs the dataset frame for the week of the requested date.
func (s *Server) getDataGrid(c *gin.Context) {
	var req gridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	date, err := grid.ParseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := Snapshot(s.dataset, date, s.snapshot)
	if err != nil {
		s.logger.Error("data grid failed", "date", req.Date, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload, err := PackForecast(record, req.bbox())
	if err != nil {
		if errors.Is(err, grid.ErrEmptySelection) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", payload)
}

type boundParam struct {
	key      string
	fallback float64
	dst      *float64
}

// parseBBox reads min_lat, max_lat, min_lon and max_lon. No bounds means no
// cropping; an omitted bound is unbounded.
func parseBBox(c *gin.Context) (*grid.BBox, error) {
	var box grid.BBox
	params := []boundParam{
		{"min_lat", math.Inf(-1), &box.MinLat},
		{"max_lat", math.Inf(1), &box.MaxLat},
		{"min_lon", math.Inf(-1), &box.MinLon},
		{"max_lon", math.Inf(1), &box.MaxLon},
	}
	given := false
	for _, p := range params {
		raw, ok := c.GetQuery(p.key)
		if !ok || raw == "" {
			*p.dst = p.fallback
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", p.key, raw)
		}
		*p.dst = v
		given = true
	}
	if !given {
		return nil, nil
	}
	return &box, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", strconv.Itoa(c.Writer.Status()),
			"latency", time.Since(start),
		)
	}
}
