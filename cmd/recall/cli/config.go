package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/credential"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		if err := app.Store.SetConfig(args[0], args[1]); err != nil {
			fmt.Printf("Failed to set config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved: %s\n", args[0])
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		val, err := app.Store.GetConfig(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if val == "" {
			fmt.Println("(not set)")
		} else {
			fmt.Println(val)
		}
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [provider] [api-key]",
	Short: "Store an API key, encrypted at rest",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp()
		defer app.Close()

		manager, err := credential.NewManager()
		if err != nil {
			fmt.Printf("Failed to init credential manager: %v\n", err)
			os.Exit(1)
		}
		if err := manager.StoreKey(app.Store, args[0], args[1]); err != nil {
			fmt.Printf("Failed to store key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Stored key for %s: %s\n", args[0], credential.MaskSecret(args[1]))
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}
