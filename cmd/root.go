package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/cmd/num"
	"github.com/ValentinKolb/dRPC/cmd/serve"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "drpc",
		Short: "reactor based RPC runtime",
		Long: fmt.Sprintf(`dRPC (v%s)

A lightweight RPC runtime written in Go. Calls are multiplexed over
persistent stream connections, served by a pool of IO workers and
executed on a separate pool of business workers.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dRPC",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dRPC v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(num.NumCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary, proto). Client and server must use the same one"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
