package util

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/rpc/client"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/serializer"
	"github.com/ValentinKolb/kvlog/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 30, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The addresses of the kvlog nodes as a comma-separated list. Requests are spread over all of them"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 2, WrapString("How many endpoints to try per request before giving up (a node that cannot be reached is skipped)"))

	key = "plaintext"
	cmd.PersistentFlags().Bool(key, false, WrapString("Use http instead of https"))

	key = "tls-skip-verify"
	cmd.PersistentFlags().Bool(key, false, WrapString("Do not verify the certificates of the nodes"))

	key = "ca-file"
	cmd.PersistentFlags().String(key, "", WrapString("CA certificate used to verify the nodes (default: system pool)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kvlog")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var endpoints []string
	for _, endpoint := range strings.Split(viper.GetString("endpoints"), ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			endpoints = append(endpoints, endpoint)
		}
	}

	return &common.ClientConfig{
		Endpoints:     endpoints,
		TimeoutSecond: viper.GetInt("timeout"),
		RetryCount:    viper.GetInt("retries"),
		Plaintext:     viper.GetBool("plaintext"),
		TLSSkipVerify: viper.GetBool("tls-skip-verify"),
		CAFile:        viper.GetString("ca-file"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.New(viper.GetString("serializer"))
}

// NewClient creates a client of the http api from the viper configuration
func NewClient() (*client.Client, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	return client.NewClient(*GetClientConfig(), http.NewHttpClientTransport(), s)
}

// FormatRecord renders a record the way the client commands print it
func FormatRecord(rec *client.Record) string {
	key, version := "null", "null"
	if rec.Key != nil {
		key = strconv.Quote(*rec.Key)
	}
	if rec.Version != nil {
		version = strconv.FormatUint(*rec.Version, 10)
	}
	return fmt.Sprintf("seq=%d, key=%s, version=%s, value=%s", rec.LogSeq, key, version, rec.Value)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
