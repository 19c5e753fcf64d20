package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/rnncap/internal/captioner"
	"github.com/samcharles93/rnncap/internal/version"
)

type Server struct {
	store   *ResultStore
	service *CaptionService
}

func NewServer(store *ResultStore, service *CaptionService) *Server {
	if store == nil {
		store = NewResultStore(0)
	}
	return &Server{
		store:   store,
		service: service,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleListModels)

	e.POST("/v1/captions", s.handleCreateCaptions)
	e.GET("/v1/captions/:id", s.handleGetCaptions)
	e.DELETE("/v1/captions/:id", s.handleDeleteCaptions)

	e.POST("/v1/hidden", s.handleHidden)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	var (
		ids    []string
		loaded map[string]captioner.ModelInfo
	)
	if s.service != nil && s.service.provider != nil {
		if lister, ok := s.service.provider.(interface {
			ListModels() ([]string, error)
		}); ok {
			discovered, err := lister.ListModels()
			if err != nil {
				return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
			}
			ids = discovered
		}
		if l, ok := s.service.provider.(interface {
			Loaded() map[string]captioner.ModelInfo
		}); ok {
			loaded = l.Loaded()
		}
	}

	data := make([]ModelData, 0, len(ids))
	for _, id := range ids {
		m := ModelData{ID: id, Object: "model", OwnedBy: "local"}
		if info, ok := loaded[id]; ok {
			m.Details = info
		}
		data = append(data, m)
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func (s *Server) handleCreateCaptions(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "caption service not configured", "", "")
	}
	req, err := decodeJSON[CaptionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	resp, err := s.service.CreateCaptions(c.Request().Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}
	s.store.Save(*resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetCaptions(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "caption result not found: "+id)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteCaptions(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "caption result not found: "+id)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id,
		"object":  "caption.list.deleted",
		"deleted": true,
	})
}

func (s *Server) handleHidden(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "caption service not configured", "", "")
	}
	req, err := decodeJSON[HiddenRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	resp, err := s.service.ExtractHidden(c.Request().Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func writeServiceError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error(), errorParam(err))
	case errors.Is(err, captioner.ErrInvalidInput):
		return writeBadRequest(c, err.Error(), "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "request_cancelled")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}
