package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docport/docport/pkg/types"
)

func (s *Server) createBuild(c echo.Context) error {
	var req types.BuildRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	if req.Recipe.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "recipe name is required",
		})
	}

	bld, err := s.builder.Build(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusCreated, bld)
}

func (s *Server) listBuilds(c echo.Context) error {
	builds, err := s.builds.ListBuilds()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	if builds == nil {
		builds = []types.Build{}
	}
	return c.JSON(http.StatusOK, builds)
}

func (s *Server) getBuild(c echo.Context) error {
	bld, err := s.builds.GetBuild(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, bld)
}

func (s *Server) deleteBuild(c echo.Context) error {
	if err := s.builder.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) buildLog(c echo.Context) error {
	if s.archive == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "build log archive not configured",
		})
	}

	data, err := s.archive.FetchBuildLog(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", data)
}
