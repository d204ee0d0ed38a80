package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docport/docport/internal/recipe"
	"github.com/docport/docport/pkg/client"
	"github.com/docport/docport/pkg/types"
)

var buildCmd = &cobra.Command{
	Use:   "build <recipe.json>",
	Short: "Build an image from a recipe",
	Long:  `Submit a recipe to the docport server and wait for the image build.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		r, err := recipe.LoadFile(args[0])
		if err != nil {
			return err
		}

		tag, _ := cmd.Flags().GetString("tag")
		push, _ := cmd.Flags().GetBool("push")
		noCache, _ := cmd.Flags().GetBool("no-cache")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		bld, err := c.CreateBuild(ctx, types.BuildRequest{
			Recipe:  r,
			Tag:     tag,
			Push:    push,
			NoCache: noCache,
		})
		if err != nil {
			return fmt.Errorf("failed to build: %w", err)
		}

		fmt.Printf("✓ Build %s succeeded\n", bld.ID)
		fmt.Printf("  Image: %s\n", bld.ImageRef)
		fmt.Printf("  Digest: %s\n", bld.RecipeDigest[:12])
		fmt.Printf("  Duration: %dms\n", bld.DurationMS)
		return nil
	},
}

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List and inspect builds",
}

var buildsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all builds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		builds, err := c.ListBuilds(ctx)
		if err != nil {
			return fmt.Errorf("failed to list builds: %w", err)
		}

		if len(builds) == 0 {
			fmt.Println("No builds found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTAG\tSTATUS\tDURATION\tCREATED")
		for _, b := range builds {
			created := ""
			if !b.CreatedAt.IsZero() {
				created = b.CreatedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
				b.ID, b.Name, b.Tag, b.Status, b.DurationMS, created)
		}
		w.Flush()
		return nil
	},
}

var buildsGetCmd = &cobra.Command{
	Use:   "get <build-id>",
	Short: "Get build details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		bld, err := c.GetBuild(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get build: %w", err)
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, _ := json.MarshalIndent(bld, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Build: %s\n", bld.ID)
		fmt.Printf("  Name: %s\n", bld.Name)
		fmt.Printf("  Tag: %s\n", bld.Tag)
		fmt.Printf("  Image: %s\n", bld.ImageRef)
		fmt.Printf("  Status: %s\n", bld.Status)
		if bld.Error != "" {
			fmt.Printf("  Error: %s\n", bld.Error)
		}
		fmt.Printf("  Recipe digest: %s\n", bld.RecipeDigest)
		fmt.Printf("  Deps digest: %s\n", bld.DepsDigest)
		fmt.Printf("  Duration: %dms\n", bld.DurationMS)
		return nil
	},
}

var buildsRemoveCmd = &cobra.Command{
	Use:     "remove <build-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a build and its image",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := c.DeleteBuild(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to remove build: %w", err)
		}

		fmt.Printf("✓ Build %s removed\n", args[0])
		return nil
	},
}

var buildsLogCmd = &cobra.Command{
	Use:   "log <build-id>",
	Short: "Fetch a build's archived log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		logText, err := c.BuildLog(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch build log: %w", err)
		}

		fmt.Print(logText)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(buildsCmd)

	buildsCmd.AddCommand(buildsListCmd)
	buildsCmd.AddCommand(buildsGetCmd)
	buildsCmd.AddCommand(buildsRemoveCmd)
	buildsCmd.AddCommand(buildsLogCmd)

	buildCmd.Flags().String("tag", "", "Image tag (defaults to the recipe digest)")
	buildCmd.Flags().Bool("push", false, "Push the image to the configured registry")
	buildCmd.Flags().Bool("no-cache", false, "Disable the layer cache")

	buildsGetCmd.Flags().Bool("json", false, "Output as JSON")
}
