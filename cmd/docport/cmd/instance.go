package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docport/docport/pkg/client"
	"github.com/docport/docport/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run <image-ref>",
	Short: "Launch an instance from a built image",
	Long:  `Launch a service instance and wait for startup verification to pass.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		buildID, _ := cmd.Flags().GetString("build")
		port, _ := cmd.Flags().GetInt("port")
		workers, _ := cmd.Flags().GetInt("workers")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		inst, err := c.Launch(ctx, types.LaunchRequest{
			ImageRef: args[0],
			BuildID:  buildID,
			Port:     port,
			Workers:  workers,
		})
		if err != nil {
			return fmt.Errorf("failed to launch: %w", err)
		}

		fmt.Printf("✓ Instance %s running\n", inst.ID)
		fmt.Printf("  Image: %s\n", inst.ImageRef)
		fmt.Printf("  Port: %d\n", inst.Port)
		fmt.Printf("  Workers: %d\n", inst.Workers)
		return nil
	},
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		instances, err := c.ListInstances(ctx)
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}

		if len(instances) == 0 {
			fmt.Println("No instances found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tIMAGE\tSTATUS\tPORT\tWORKERS\tSTARTED")
		for _, inst := range instances {
			started := ""
			if !inst.StartedAt.IsZero() {
				started = inst.StartedAt.Format("15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				inst.ID, inst.ImageRef, inst.Status, inst.Port, inst.Workers, started)
		}
		w.Flush()
		return nil
	},
}

var getInstanceCmd = &cobra.Command{
	Use:   "get <instance-id>",
	Short: "Get instance details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		inst, err := c.GetInstance(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get instance: %w", err)
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, _ := json.MarshalIndent(inst, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Instance: %s\n", inst.ID)
		fmt.Printf("  Image: %s\n", inst.ImageRef)
		fmt.Printf("  Status: %s\n", inst.Status)
		fmt.Printf("  Port: %d\n", inst.Port)
		fmt.Printf("  Workers: %d\n", inst.Workers)
		if inst.BuildID != "" {
			fmt.Printf("  Build: %s\n", inst.BuildID)
		}
		if !inst.StartedAt.IsZero() {
			fmt.Printf("  Started: %s\n", inst.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <instance-id>",
	Short: "Gracefully stop an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := c.StopInstance(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to stop instance: %w", err)
		}

		fmt.Printf("✓ Instance %s stopped\n", args[0])
		return nil
	},
}

var killInstanceCmd = &cobra.Command{
	Use:     "kill <instance-id>",
	Aliases: []string{"rm"},
	Short:   "Forcefully remove an instance",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.KillInstance(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to kill instance: %w", err)
		}

		fmt.Printf("✓ Instance %s killed\n", args[0])
		return nil
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers <instance-id>",
	Short: "Report the supervisor and worker processes of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		report, err := c.Workers(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get workers: %w", err)
		}

		fmt.Printf("Instance: %s\n", report.InstanceID)
		fmt.Printf("  Supervisor: %v\n", report.Supervisor)
		fmt.Printf("  Workers: %d/%d active\n", report.Active, report.Expected)
		if report.Active < report.Expected {
			fmt.Println("  ⚠ fewer workers than expected")
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <instance-id>",
	Short: "Stream an instance's live logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := c.StreamLogs(ctx, args[0], os.Stdout); err != nil {
			return fmt.Errorf("failed to stream logs: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(getInstanceCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killInstanceCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(logsCmd)

	runCmd.Flags().String("build", "", "Build ID the image came from")
	runCmd.Flags().Int("port", 0, "Published port (default 8000)")
	runCmd.Flags().Int("workers", 0, "Worker count (default 4)")

	getInstanceCmd.Flags().Bool("json", false, "Output as JSON")
}
