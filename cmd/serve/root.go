package serve

import (
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/server"
	"github.com/ValentinKolb/kvlog/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve [flags] host:port [host:port ...]",
		Short: "Start a kvlog node",
		Long: `Start a kvlog node. The positional arguments list every node of the cluster, this node first.

The configuration can be set via command line flags or environment variables. The format of the environment variables is KVLOG_<flag> (e.g. KVLOG_DATA_DIR=/var/lib/kvlog)`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory holding the database files (<data-dir>/db/...)"))

	key = "tls-dir"
	ServeCmd.PersistentFlags().String(key, http.DefaultTLSDir(), cmdUtil.WrapString("Directory with cert.pem, key.pem and an optional ca.pem used to verify the peers"))

	key = "tls-skip-verify"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Do not verify the certificates of the peers"))

	key = "plaintext"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Serve and talk to peers over http instead of https (testing only)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Timeout in seconds of a single peer request"))

	key = "max-conns"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Maximum number of simultaneous connections (0 for no limit)"))

	key = "no-sync"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Do not fsync database files after each commit (unsafe, testing only)"))

	key = "batch-linger"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("How long in milliseconds a bulk append waits for concurrent appends before it is committed"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, args []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// the peer list, this node first
	serveCmdConfig.Peers = make([]string, 0, len(args))
	for _, arg := range args {
		for _, peer := range strings.Split(arg, ",") {
			if peer = strings.TrimSpace(peer); peer != "" {
				serveCmdConfig.Peers = append(serveCmdConfig.Peers, peer)
			}
		}
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TLSDir = viper.GetString("tls-dir")
	serveCmdConfig.TLSSkipVerify = viper.GetBool("tls-skip-verify")
	serveCmdConfig.Plaintext = viper.GetBool("plaintext")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxConns = viper.GetInt("max-conns")
	serveCmdConfig.NoSync = viper.GetBool("no-sync")
	serveCmdConfig.BatchLingerMs = viper.GetInt64("batch-linger")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if _, err := common.ParseLogLevel(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	return serveCmdConfig.Validate()
}

// run starts the kvlog node and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	tlsConfig, err := http.ClientTLSConfig(filepath.Join(serveCmdConfig.TLSDir, http.CAFile), serveCmdConfig.TLSSkipVerify)
	if err != nil {
		return fmt.Errorf("failed to load peer tls config: %w", err)
	}

	serv, err := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		http.NewPeerTransport(*serveCmdConfig, tlsConfig),
		s,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serv.Serve()
	}()

	select {
	case err := <-errCh:
		_ = serv.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := serv.Close(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kvlog")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
