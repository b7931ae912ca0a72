package log

import (
	"github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/ValentinKolb/kvlog/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.Client

	// LogCommands represents the log command group
	LogCommands = &cobra.Command{
		Use:               "log",
		Short:             "Write to and read from the replicated log",
		PersistentPreRunE: setupLogClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the log command
	util.SetupRPCClientFlags(LogCommands)

	// Add subcommands
	LogCommands.AddCommand(putCmd)
	LogCommands.AddCommand(appendCmd)
	LogCommands.AddCommand(getCmd)
	LogCommands.AddCommand(seqCmd)
	LogCommands.AddCommand(maxCmd)
	LogCommands.AddCommand(perfTestCmd)
}

// setupLogClient initializes the client of the http api
func setupLogClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcClient, err = util.NewClient()
	return err
}
