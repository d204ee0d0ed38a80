package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docport/docport/internal/recipe"
	"github.com/docport/docport/pkg/types"
)

// RenderResponse is the output of the recipe render endpoint.
type RenderResponse struct {
	Containerfile string        `json:"containerfile"`
	RecipeDigest  string        `json:"recipe_digest"`
	DepsDigest    string        `json:"deps_digest"`
	Steps         []recipe.Step `json:"steps"`
}

func (s *Server) validateRecipe(c echo.Context) error {
	var r types.Recipe
	if err := c.Bind(&r); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	if err := recipe.Validate(recipe.WithDefaults(r)); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "valid"})
}

func (s *Server) renderRecipe(c echo.Context) error {
	var r types.Recipe
	if err := c.Bind(&r); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	r = recipe.WithDefaults(r)
	if err := recipe.Validate(r); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}

	seq := recipe.Render(r)
	recipeDigest, depsDigest, err := recipe.Digest(r, seq)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, RenderResponse{
		Containerfile: seq.Containerfile(),
		RecipeDigest:  recipeDigest,
		DepsDigest:    depsDigest,
		Steps:         seq.Steps,
	})
}
