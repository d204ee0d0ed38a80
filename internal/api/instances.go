package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docport/docport/pkg/types"
)

func (s *Server) launchInstance(c echo.Context) error {
	var req types.LaunchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	if req.ImageRef == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "imageRef is required",
		})
	}

	inst, err := s.instances.Launch(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusCreated, inst)
}

func (s *Server) listInstances(c echo.Context) error {
	instances, err := s.instances.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	if instances == nil {
		instances = []types.Instance{}
	}
	return c.JSON(http.StatusOK, instances)
}

func (s *Server) getInstance(c echo.Context) error {
	inst, err := s.instances.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, inst)
}

func (s *Server) stopInstance(c echo.Context) error {
	if err := s.instances.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) killInstance(c echo.Context) error {
	if err := s.instances.Kill(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) instanceWorkers(c echo.Context) error {
	report, err := s.instances.VerifyWorkers(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, report)
}
