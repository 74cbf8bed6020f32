package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/service"
)

var (
	configPath   string
	verbose      bool
	ciMode       bool
	providerType string
	modelName    string
	sessionID    string
	maxSteps     int
	noRemember   bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Memory-backed agent query service",
	Long: `Recall answers queries through a bounded agent step loop backed by a
deduplicated long-term memory. Every run is observable through its run log.`,
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run one agent query",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		remember := !noRemember
		resp, err := app.Service.Query(context.Background(), service.QueryRequest{
			Query:     args[0],
			SessionID: sessionID,
			Remember:  &remember,
			MaxSteps:  maxSteps,
		})
		if resp != nil {
			printQueryResponse(resp)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func printQueryResponse(resp *service.QueryResponse) {
	if ciMode {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Println(resp.Answer)
	if verbose {
		fmt.Fprintf(os.Stderr, "session=%s run=%s\n", resp.SessionID, resp.RunID)
		for k, v := range resp.Meta {
			fmt.Fprintf(os.Stderr, "meta %s=%v\n", k, v)
		}
	}
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a JSON or YAML config file")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&ciMode, "json", false, "JSON output, non-interactive")
	RootCmd.PersistentFlags().StringVarP(&providerType, "provider", "p", "", "Capability backend (ollama, openai, gemini, anthropic, stub)")
	RootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")

	RootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to continue (new session when empty)")
	queryCmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step cap for this run (0 uses the configured default)")
	queryCmd.Flags().BoolVar(&noRemember, "no-remember", false, "Skip persisting facts the model marks as worth remembering")
}
