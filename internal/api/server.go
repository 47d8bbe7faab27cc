// Package api serves the question answering engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/extractqa/internal/inference"
	"github.com/samcharles93/extractqa/internal/logger"
	"github.com/samcharles93/extractqa/internal/version"
	"github.com/samcharles93/extractqa/internal/webui"
)

type Server struct {
	service *InferenceService
	// scorer names the scorer backing the engine for /healthz.
	scorer string
}

func NewServer(service *InferenceService, scorerName string) *Server {
	return &Server{service: service, scorer: scorerName}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/inference", s.handleInference)
	e.GET("/healthz", s.handleHealth)
	e.GET("/version", s.handleVersion)
	e.GET("/", s.handleIndex)
}

func (s *Server) handleInference(c *echo.Context) error {
	req, err := decodeJSON[InferenceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	results, err := s.service.Answer(ctx, &req)
	if err != nil {
		return s.writeAnswerError(c, ctx, err)
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) writeAnswerError(c *echo.Context, ctx context.Context, err error) error {
	if errors.Is(err, ErrInvalidRequest) || inference.IsClientError(err) {
		return writeBadRequest(c, err.Error())
	}
	logger.FromContext(ctx).Error("inference failed", "error", err)
	return writeServerError(c, err.Error())
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Scorer: s.scorer})
}

func (s *Server) handleIndex(c *echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(webui.Index())
	return err
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse(version.Resolve()))
}
