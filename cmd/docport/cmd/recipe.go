package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docport/docport/internal/recipe"
)

var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Validate and render build recipes",
	Long:  `Validate a recipe against the build contract and render its build file.`,
}

var recipeValidateCmd = &cobra.Command{
	Use:   "validate <recipe.json>",
	Short: "Validate a recipe file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := recipe.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := recipe.Validate(r); err != nil {
			return err
		}

		fmt.Printf("✓ Recipe %s is valid\n", r.Name)
		fmt.Printf("  Base image: %s\n", r.BaseImage)
		fmt.Printf("  App: %s (%d workers on :%d)\n", r.App, r.Workers, r.Port)
		return nil
	},
}

var recipeRenderCmd = &cobra.Command{
	Use:   "render <recipe.json>",
	Short: "Render a recipe's build file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := recipe.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := recipe.Validate(r); err != nil {
			return err
		}

		seq := recipe.Render(r)
		digests, _ := cmd.Flags().GetBool("digests")
		if !digests {
			fmt.Print(seq.Containerfile())
			return nil
		}

		recipeDigest, depsDigest, err := recipe.Digest(r, seq)
		if err != nil {
			return err
		}
		fmt.Print(seq.Containerfile())
		fmt.Printf("\n# recipe digest: %s\n", recipeDigest)
		fmt.Printf("# deps digest:   %s\n", depsDigest)
		return nil
	},
}

var recipeShowCmd = &cobra.Command{
	Use:   "show-default",
	Short: "Print the default document-portal recipe",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := recipe.Default()
		seq := recipe.Render(r)
		fmt.Print(seq.Containerfile())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recipeCmd)
	recipeCmd.AddCommand(recipeValidateCmd)
	recipeCmd.AddCommand(recipeRenderCmd)
	recipeCmd.AddCommand(recipeShowCmd)

	recipeRenderCmd.Flags().Bool("digests", false, "Append recipe and dependency digests")
}
