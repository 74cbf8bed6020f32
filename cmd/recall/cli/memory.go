package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	memoryMeta    []string
	searchK       int
	searchSession string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage long-term memories",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Store a memory, deduplicating against existing ones",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		meta := map[string]string{}
		for _, kv := range memoryMeta {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				fmt.Fprintf(os.Stderr, "invalid --meta entry %q, expected key=value\n", kv)
				os.Exit(1)
			}
			meta[parts[0]] = parts[1]
		}

		resp, err := app.Service.AddMemory(context.Background(), args[0], meta)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to add memory: %v\n", err)
			os.Exit(1)
		}
		if ciMode {
			data, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Println(string(data))
			return
		}
		fmt.Printf("%s  %s\n", resp.Outcome, resp.ID)
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Retrieve memories by semantic similarity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		hits, err := app.Service.SearchMemory(context.Background(), args[0], searchK, searchSession)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to search memory: %v\n", err)
			os.Exit(1)
		}
		if ciMode {
			data, _ := json.MarshalIndent(hits, "", "  ")
			fmt.Println(string(data))
			return
		}
		if len(hits) == 0 {
			fmt.Println("(no memories)")
			return
		}
		for _, h := range hits {
			fmt.Printf("[%.4f] %s  %s\n", h.Distance, h.ID, h.Text)
		}
	},
}

func init() {
	RootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryAddCmd.Flags().StringArrayVar(&memoryMeta, "meta", nil, "Metadata entries as key=value (repeatable)")
	memorySearchCmd.Flags().IntVarP(&searchK, "k", "k", 5, "Maximum hits to return")
	memorySearchCmd.Flags().StringVar(&searchSession, "session", "", "Restrict hits to one session")
}
