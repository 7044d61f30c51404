package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"forgelet/internal/config"
	"forgelet/internal/queue"
)

// --- enqueue ---

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <request text>",
	Short: "Drop a request file into the watch directory",
	Long: `Drop a request file into the watch directory.

Examples:
  forgelet enqueue --owner alice "build me a contact page for my bakery"
  forgelet enqueue --owner bob --hint admin-companion "signup form for my book club"
  forgelet enqueue --owner carol --sender carol@example.com "idea board for my team"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		sender, _ := cmd.Flags().GetString("sender")
		hint, _ := cmd.Flags().GetString("hint")

		if owner == "" {
			return fmt.Errorf("--owner is required")
		}
		if sender == "" {
			sender = "cli"
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		q, err := queue.Open(cfg.Queue.WatchDir)
		if err != nil {
			return err
		}

		name, err := q.Enqueue(sender, owner, hint, strings.Join(args, " "))
		if err != nil {
			return err
		}

		printSuccess("Enqueued %s", name)
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show forgelet engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/status", cfg.Server.Port))
		if err != nil {
			printWarning("engine is not running on port %d", cfg.Server.Port)
			printStatus("Engine", "stopped")
			printStatus("Watch dir", "%s", cfg.Queue.WatchDir)
			return nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			printWarning("engine returned HTTP %d", resp.StatusCode)
			printStatus("Engine", "degraded")
			return nil
		}

		var st struct {
			Version    string `json:"version"`
			QueueDepth int    `json:"queue_depth"`
			Workers    int    `json:"workers"`
			Processed  int64  `json:"processed"`
			Failed     int64  `json:"failed"`
			Artifacts  int    `json:"artifacts"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			printError("decoding status: %v", err)
			return nil
		}

		printStatus("Engine", "running on port %d (version %s)", cfg.Server.Port, st.Version)
		printStatus("Queue depth", "%d", st.QueueDepth)
		printStatus("Workers", "%d", st.Workers)
		printStatus("Processed", "%d", st.Processed)
		printStatus("Failed", "%d", st.Failed)
		printStatus("Artifacts", "%d", st.Artifacts)
		printStatus("Watch dir", "%s", cfg.Queue.WatchDir)
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the forgelet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("forgelet", version)
	},
}

func init() {
	enqueueCmd.Flags().String("owner", "", "owner slug the page belongs to (required)")
	enqueueCmd.Flags().String("sender", "", "sender address for notifications")
	enqueueCmd.Flags().String("hint", "", "processing hint (classify-only, admin-companion, stack:<key>, or a category)")
}
