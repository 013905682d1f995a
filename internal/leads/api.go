package leads

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/observability"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// API serves the lead-capture HTTP routes.
type API struct {
	app   string
	store *Store
	log   zerolog.Logger
}

func NewAPI(app string, store *Store, logger zerolog.Logger) *API {
	return &API{
		app:   app,
		store: store,
		log:   logger.With().Str("component", "leads-api").Logger(),
	}
}

// Router builds the API's HTTP surface.
func Router(a *API, logger zerolog.Logger) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(
		gin.Recovery(),
		observability.RequestLogger(logger),
		observability.RequestMetricsMiddleware(a.app),
	)
	r.POST("/api/leads", a.create)
	r.GET("/api/leads", a.list)
	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (a *API) health(c *gin.Context) {
	if err := a.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) create(c *gin.Context) {
	var sub Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"errors":  gin.H{"body": "invalid json body"},
		})
		return
	}
	if fieldErrs := sub.FieldErrors(); fieldErrs != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"errors":  fieldErrs,
		})
		return
	}

	lead := sub.Lead()
	err := a.store.Insert(c.Request.Context(), lead)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "email already exists",
		})
		return
	case err != nil:
		a.log.Error().Err(err).Msg("lead insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal error",
		})
		return
	}

	a.log.Info().Str("lead_id", lead.ID).Str("email", lead.Email).Msg("lead captured")
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    lead,
	})
}

func (a *API) list(c *gin.Context) {
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	items, total, err := a.store.List(c.Request.Context(), page, limit)
	if err != nil {
		a.log.Error().Err(err).Msg("lead list failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal error",
		})
		return
	}

	totalPages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       items,
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": totalPages,
		"hasNext":    page < totalPages,
		"hasPrev":    page > 1 && total > 0,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Service runs the lead API over one listener until its context is canceled.
type Service struct {
	addr string
	log  zerolog.Logger
	srv  *http.Server
}

func NewService(addr, app string, store *Store, logger zerolog.Logger) *Service {
	api := NewAPI(app, store, logger)
	return &Service{
		addr: addr,
		log:  logger.With().Str("component", "leads-service").Logger(),
		srv: &http.Server{
			Addr:              addr,
			Handler:           Router(api, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("lead api listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("lead api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
