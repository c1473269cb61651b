package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/domain"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	sched "github.com/berfenger/otgw2mqtt/internal/core/scheduler"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type writeEntityBody struct {
	Value any `json:"value"`
}

type writeEntityResult struct {
	ID    string          `json:"id"`
	Value opentherm.Value `json:"value"`
}

type errorResult struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/entities", s.EntitiesHandler)
	e.GET("/entities/:key", s.EntityHandler)
	e.POST("/entities/:key", s.WriteEntityHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) EntitiesHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.All())
}

func (s *Server) EntityHandler(c echo.Context) error {
	e, ok := s.resolve(c.Param("key"), false)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResult{Error: "unknown entity"})
	}
	snap, ok := s.store.Get(e.ID())
	if !ok {
		return c.JSON(http.StatusNotFound, errorResult{Error: "unknown entity"})
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) WriteEntityHandler(c echo.Context) error {
	e, ok := s.resolve(c.Param("key"), true)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResult{Error: "unknown entity"})
	}

	var body writeEntityBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResult{Error: "invalid body"})
	}
	var value opentherm.Value
	switch v := body.Value.(type) {
	case float64:
		value = opentherm.Float(v)
	case bool:
		value = opentherm.Bool(v)
	case string:
		value = opentherm.Text(v)
	default:
		return c.JSON(http.StatusBadRequest, errorResult{Error: "value must be a number, a boolean or a string"})
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.WriteEntityRequest{
		EntityId: e.ID(),
		Value:    value,
	}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResult{Error: err.Error()})
	}
	response, ok := res.(domain.WriteEntityResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResult{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		err := response.GetResponseError()
		return c.JSON(writeErrorStatus(err), errorResult{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, writeEntityResult{ID: response.EntityId, Value: response.Value})
}

// resolve accepts a full entity id ("switch.ch_enable") or a bare key. A bare
// key shared by several kinds resolves to the writable entity when writable
// is set, to the first one in schema order otherwise.
func (s *Server) resolve(key string, writable bool) (schema.Entity, bool) {
	if e, ok := s.registry.Entity(key); ok {
		return e, true
	}
	var found *schema.Entity
	for _, e := range s.registry.Entities() {
		if e.Key != key {
			continue
		}
		if writable && !e.Writable() {
			if found == nil {
				found = &e
			}
			continue
		}
		return e, true
	}
	if found != nil {
		return *found, true
	}
	return schema.Entity{}, false
}

func writeErrorStatus(err error) int {
	var encodingErr *opentherm.EncodingError
	var writeErr *sched.WriteError
	switch {
	case errors.Is(err, sched.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, sched.ErrNotWritable), errors.As(err, &encodingErr):
		return http.StatusBadRequest
	case errors.As(err, &writeErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
