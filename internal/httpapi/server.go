// Package httpapi provides the HTTP API for searchd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/index"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/search"
)

// Searcher answers hybrid search requests.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Indexer ingests and removes documents.
type Indexer interface {
	IndexDocuments(ctx context.Context, docs []index.Document) (*index.Stats, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// Server provides the HTTP endpoints for searchd.
type Server struct {
	echo     *echo.Echo
	searcher Searcher
	indexer  Indexer
	logger   *logging.Logger
	config   config.ServerConfig
}

// NewServer creates an HTTP server.
func NewServer(cfg config.ServerConfig, searcher Searcher, indexer Indexer, logger *logging.Logger) (*Server, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.RateLimitRPS > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimitRPS))))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		searcher: searcher,
		indexer:  indexer,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/documents", s.handleIndexDocuments)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req search.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	resp, err := s.searcher.Search(c.Request().Context(), req)
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// IndexRequest is the request body for POST /api/v1/documents. Either a
// batch under "documents" or a single document inlined at the top level.
type IndexRequest struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Metadata  map[string]any   `json:"metadata"`
	Documents []index.Document `json:"documents"`
}

func (s *Server) handleIndexDocuments(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	docs := req.Documents
	single := len(docs) == 0
	if single {
		docs = []index.Document{{ID: req.ID, Text: req.Text, Metadata: req.Metadata}}
	}

	stats, err := s.indexer.IndexDocuments(c.Request().Context(), docs)
	if err != nil {
		if errors.Is(err, index.ErrInvalidDocument) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		s.logger.Error(c.Request().Context(), "index request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	// A single-document request that failed validation outright is the
	// caller's fault, not a partial batch result.
	if single && stats.Chunked == 0 && len(stats.Errors) == 1 && stats.Errors[0].Stage == "validate" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: stats.Errors[0].Message})
	}

	status := http.StatusCreated
	if len(stats.Errors) > 0 || stats.Indexed < stats.Chunked {
		// Part of the batch did not land; the stats carry the details.
		status = http.StatusMultiStatus
	}
	return c.JSON(status, stats)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	docID := c.Param("id")
	if err := s.indexer.DeleteDocument(c.Request().Context(), docID); err != nil {
		if errors.Is(err, index.ErrInvalidDocument) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		s.logger.Error(c.Request().Context(), "delete request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// searchError maps search failures onto status codes: invalid requests
// are the caller's fault, total upstream loss is a bad gateway, anything
// else is internal. Degraded responses never reach here; they are 200s
// with the degraded flag set.
func (s *Server) searchError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, search.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, search.ErrUpstreamUnavailable):
		s.logger.Error(c.Request().Context(), "search upstreams unavailable", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "search backends unavailable"})
	default:
		s.logger.Error(c.Request().Context(), "search request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
