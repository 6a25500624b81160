// Package server exposes the webhook endpoint and health check over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/similigh/triagebot/internal/dispatch"
	"github.com/similigh/triagebot/internal/webhook"
)

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Dispatcher routes a parsed event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *dispatch.Event) *dispatch.Result
}

// Options configures the server.
type Options struct {
	Addr          string
	WebhookSecret string
	MaxBodyBytes  int64
}

// Server represents the webhook server
type Server struct {
	echo       *echo.Echo
	opts       Options
	dispatcher Dispatcher
	deliveries *webhook.DeliveryLog
	logger     zerolog.Logger
}

// New creates a server. deliveries may be nil to disable replay detection.
func New(opts Options, dispatcher Dispatcher, deliveries *webhook.DeliveryLog, logger zerolog.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		opts:       opts,
		dispatcher: dispatcher,
		deliveries: deliveries,
		logger:     logger,
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", opts.MaxBodyBytes)))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.POST("/webhook", s.handleWebhook)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("webhook server listening")
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("shutting down webhook server")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "GitHub Issue Triage Bot is running",
	})
}

func (s *Server) handleWebhook(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}

	if !webhook.VerifySignature(req.Header.Get(webhook.SignatureHeader), body, s.opts.WebhookSecret) {
		s.logger.Warn().Str("remote_ip", c.RealIP()).Msg("rejected delivery with invalid signature")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
	}

	eventType := req.Header.Get(webhook.EventHeader)
	if eventType == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing " + webhook.EventHeader + " header"})
	}

	deliveryID := req.Header.Get(webhook.DeliveryHeader)
	handled := false
	if s.deliveries != nil {
		if s.deliveries.Seen(deliveryID) {
			s.logger.Info().Str("delivery", deliveryID).Str("event", eventType).Msg("duplicate delivery ignored")
			return c.JSON(http.StatusOK, &dispatch.Result{Status: dispatch.StatusIgnored, Message: "duplicate delivery"})
		}
		// Unhandled deliveries, including panics, stay eligible for redelivery.
		defer func() {
			if !handled {
				s.deliveries.Forget(deliveryID)
			}
		}()
	}

	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}

	ev, err := dispatch.ParseEvent(eventType, body)
	if err != nil {
		detail := strings.TrimPrefix(err.Error(), dispatch.ErrMalformedEvent.Error()+": ")
		s.logger.Warn().Str("event", eventType).Str("delivery", deliveryID).Str("reason", detail).Msg("rejected malformed delivery")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid payload: " + detail})
	}
	ev.DeliveryID = deliveryID

	result := s.dispatcher.Dispatch(req.Context(), ev)

	logEvent := s.logger.Info()
	if result.Status == dispatch.StatusError {
		logEvent = s.logger.Error().Strs("errors", result.Errors)
	}
	logEvent.
		Str("event", ev.Type).
		Str("action", ev.Action).
		Str("repo", ev.Repository).
		Int("issue", ev.IssueNumber).
		Str("delivery", deliveryID).
		Str("status", result.Status).
		Str("message", result.Message).
		Msg("delivery handled")

	// Failed deliveries stay eligible for redelivery.
	handled = result.Status != dispatch.StatusError
	return c.JSON(http.StatusOK, result)
}

// handleError renders every error as {"error": ...}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if code != http.StatusInternalServerError {
			message = http.StatusText(code)
		}
	}
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}

	if err := c.JSON(code, map[string]string{"error": message}); err != nil {
		s.logger.Error().Err(err).Msg("failed to write error response")
	}
}
