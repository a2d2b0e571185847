// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package api exposes a read-only HTTP view over the pending-resource
// datastore. It never mutates anything; materialization is driven by the
// pipeline, not by requests.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/platform-engineering-labs/portage/internal/datastore"
	"github.com/platform-engineering-labs/portage/internal/logging"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

const (
	BasePath           = "/api/v1"
	ListResourcesRoute = BasePath + "/resources"
	ResourceRoute      = BasePath + "/resources/:namespace/:value"
	HealthRoute        = BasePath + "/health"
	MetricsRoute       = "/metrics"
)

type ServerConfig struct {
	Port    int
	TLSCert string
	TLSKey  string
}

type Server struct {
	echo           *echo.Echo
	store          datastore.Datastore
	ctx            context.Context
	config         ServerConfig
	metricsHandler http.Handler
}

func NewServer(ctx context.Context, store datastore.Datastore, config ServerConfig, metricsHandler http.Handler) *Server {
	server := &Server{
		store:          store,
		ctx:            ctx,
		config:         config,
		metricsHandler: metricsHandler,
	}

	server.echo = server.configureEcho()

	return server
}

// Start launches the server in a separate goroutine and blocks until the
// server's context is canceled.
func (s *Server) Start() {
	go func() {
		listen := fmt.Sprintf(":%d", s.config.Port)

		if s.config.TLSCert != "" && s.config.TLSKey != "" {
			if err := s.echo.StartTLS(listen, s.config.TLSCert, s.config.TLSKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.echo.Logger.Error(err)
			}
		} else {
			if err := s.echo.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.echo.Logger.Error(err)
			}
		}
	}()
	<-s.ctx.Done()
	s.Stop()
}

// Stop gracefully shuts down the server, waiting for ongoing requests to complete
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	slog.Info("API server received shutdown")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		slog.Info("API server error when shutting down", "error", err)
	}
	slog.Info("API server successfully shutdown")
}

func (s *Server) configureEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Logger = logging.NewEchoLogger()
	e.StdLogger = log.Default()

	// Resource inspection endpoints
	e.GET(ListResourcesRoute, s.ListResources)
	e.GET(ResourceRoute, s.GetResource)

	// Health endpoint
	e.GET(HealthRoute, s.Health)

	// Prometheus metrics endpoint (if enabled)
	if s.metricsHandler != nil {
		e.GET(MetricsRoute, echo.WrapHandler(s.metricsHandler))
	}

	return e
}

// ListResources returns every tracked resource, optionally filtered by
// lifecycle status via ?status=pending|materialized|failed.
func (s *Server) ListResources(c echo.Context) error {
	var (
		resources []datastore.Resource
		err       error
	)

	switch status := c.QueryParam("status"); status {
	case "":
		resources, err = s.listAll(c.Request().Context())
	case string(datastore.StatusPending), string(datastore.StatusMaterialized), string(datastore.StatusFailed):
		resources, err = s.store.ListByStatus(c.Request().Context(), datastore.Status(status))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status: %s", status))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	response := ListResourcesResponse{Resources: make([]ResourceResponse, 0, len(resources))}
	for _, resource := range resources {
		response.Resources = append(response.Resources, toResourceResponse(resource))
	}

	return c.JSON(http.StatusOK, response)
}

// GetResource returns a single resource addressed by its key segments,
// e.g. /api/v1/resources/article/42 for key "article:42".
func (s *Server) GetResource(c echo.Context) error {
	key := model.NewKey(c.Param("namespace"), c.Param("value"))
	if key.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "namespace and value are required")
	}

	resource, err := s.store.Resource(c.Request().Context(), key)
	if errors.Is(err, datastore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no resource with key %s", key))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, toResourceResponse(resource))
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listAll(ctx context.Context) ([]datastore.Resource, error) {
	var all []datastore.Resource
	for _, status := range []datastore.Status{datastore.StatusPending, datastore.StatusMaterialized, datastore.StatusFailed} {
		resources, err := s.store.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		all = append(all, resources...)
	}
	return all, nil
}
