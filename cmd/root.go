package cmd

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/cmd/console"
	"github.com/ValentinKolb/kvlog/cmd/log"
	"github.com/ValentinKolb/kvlog/cmd/serve"
	"github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvlog",
		Short: "replicated log with paxos per slot",
		Long: fmt.Sprintf(`kvlog (v%s)

A replicated, append-only log of (key, version, value) rows written in Go.
Every slot of the log is decided by its own paxos round, any node accepts
reads and writes.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvlog",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvlog v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(log.LogCommands)
	RootCmd.AddCommand(console.ConsoleCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, json), all nodes and clients of a cluster must agree"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
