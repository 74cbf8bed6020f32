package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	sessionLimit int
	messageLimit int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session",
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		id, err := app.Service.NewSession(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create session: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(id)
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		sessions, err := app.Service.ListSessions(context.Background(), sessionLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		if ciMode {
			data, _ := json.MarshalIndent(sessions, "", "  ")
			fmt.Println(string(data))
			return
		}
		if len(sessions) == 0 {
			fmt.Println("(no sessions)")
			return
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %d messages\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.MessageCount)
		}
	},
}

var sessionsMessagesCmd = &cobra.Command{
	Use:   "messages [session-id]",
	Short: "Show the transcript of a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		msgs, err := app.Service.ListMessages(context.Background(), args[0], messageLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list messages: %v\n", err)
			os.Exit(1)
		}
		if ciMode {
			data, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(data))
			return
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
	},
}

func init() {
	RootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsMessagesCmd)
	sessionsListCmd.Flags().IntVar(&sessionLimit, "limit", 0, "Maximum sessions to list (0 uses the default)")
	sessionsMessagesCmd.Flags().IntVar(&messageLimit, "tail", 0, "Only the most recent N messages (0 for all)")
}
