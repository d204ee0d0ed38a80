package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "docport",
	Short: "docport CLI - Build and launch the document portal service",
	Long: `docport is a command-line tool for the docport build-and-launch manager.

It provides commands to validate and render build recipes, build container
images, and manage running service instances.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("DOCPORT_API_URL", "http://localhost:8080"), "docport API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("DOCPORT_API_KEY"), "docport API key")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func checkAPIKey() error {
	if apiKey == "" {
		return fmt.Errorf("API key is required. Set DOCPORT_API_KEY environment variable or use --api-key flag")
	}
	return nil
}
