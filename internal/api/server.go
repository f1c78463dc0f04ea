package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
)

// Store is what the handlers need from the storage backend.
type Store interface {
	CreateRoom(ctx context.Context, r model.Room) error
	GetRoom(ctx context.Context, roomID string) (model.Room, error)
	UpdateRoomStatus(ctx context.Context, roomID string, from, to model.RoomStatus) (bool, error)
	GetCounter(ctx context.Context, roomID, itemID string) (model.ItemVoteCounter, error)
	AppendChange(ctx context.Context, rec model.ChangeRecord) (int64, error)
}

// Waker is told that new records are on the feed. engine.FeedPoller
// implements it.
type Waker interface {
	Notify()
}

// Server holds the handler dependencies.
type Server struct {
	store  Store
	waker  Waker
	clock  engine.Clock
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the clock stamping submissions and new rooms.
func WithClock(c engine.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server. waker may be nil.
func NewServer(store Store, waker Waker, opts ...Option) *Server {
	s := &Server{
		store: store,
		waker: waker,
		clock: engine.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger))

	r.GET("/healthz", s.health)

	rooms := r.Group("/rooms")
	rooms.POST("", s.createRoom)
	rooms.GET("/:roomID", s.getRoom)
	rooms.POST("/:roomID/status", s.updateStatus)
	rooms.POST("/:roomID/votes", s.submitVote)
	rooms.GET("/:roomID/items/:itemID", s.getCounter)

	return r
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"elapsed", time.Since(start),
		)
	}
}

// ListenAndServe runs the HTTP server on addr until ctx is done, then shuts
// it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
