// cmd/livestore/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Заполняется при сборке через -ldflags
var version = "dev"

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "livestore",
		Short: "In-memory object store with live streaming of in-progress uploads",
		Long: `livestore keeps uploaded resources in memory and lets readers attach
while an upload is still running: they receive everything buffered so far
and then every new chunk as it arrives.

Configuration is read from --config (YAML) and LIVESTORE_* environment
variables, e.g. LIVESTORE_SERVER_ADDR=:3000 or LIVESTORE_LOGGING_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "livestore", version)
		},
	}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
