package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tailBytes int

var runlogCmd = &cobra.Command{
	Use:   "runlog",
	Short: "Inspect run logs",
}

var runlogTailCmd = &cobra.Command{
	Use:   "tail [run-id]",
	Short: "Print the tail of a run's log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		tail, err := app.Service.TailRunLog(context.Background(), args[0], tailBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to tail run log: %v\n", err)
			os.Exit(1)
		}
		if tail == "" {
			fmt.Println("(no log)")
			return
		}
		fmt.Print(tail)
	},
}

func init() {
	RootCmd.AddCommand(runlogCmd)
	runlogCmd.AddCommand(runlogTailCmd)
	runlogTailCmd.Flags().IntVar(&tailBytes, "bytes", 0, "Maximum bytes to print (0 uses the retention cap)")
}
