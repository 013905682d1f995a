package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/observability"
)

// Router builds the hub's HTTP surface: the websocket endpoint plus health
// and metrics.
func Router(h *Hub, logger zerolog.Logger) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(
		gin.Recovery(),
		observability.RequestLogger(logger),
		observability.RequestMetricsMiddleware(h.cfg.App),
	)
	r.GET("/ws", h.HandleWS)
	r.GET("/health", health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Service runs one hub over one listener until its context is canceled.
type Service struct {
	addr string
	hub  *Hub
	log  zerolog.Logger
	srv  *http.Server
}

func NewService(addr string, cfg Config, logger zerolog.Logger) *Service {
	h := New(cfg, logger)
	return &Service{
		addr: addr,
		hub:  h,
		log:  logger.With().Str("component", "hub-service").Logger(),
		srv: &http.Server{
			Addr:              addr,
			Handler:           Router(h, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Service) Hub() *Hub {
	return s.hub
}

func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("hub listening")
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

	s.log.Info().Msg("hub shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
