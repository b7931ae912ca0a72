package log

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/ValentinKolb/kvlog/rpc/client"
	"github.com/spf13/cobra"
	"io"
	"os"
	"strconv"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [db] [key] [value] [version]",
		Short: "Writes the value for a key, optionally with a version",
		Long:  "Writes the value for a key. If value is -, it is read from stdin.",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(args[2])
			if err != nil {
				return err
			}
			var version *uint64
			if len(args) == 4 {
				v, err := strconv.ParseUint(args[3], 10, 64)
				if err != nil {
					return fmt.Errorf("version must be a number: %w", err)
				}
				version = &v
			}
			res, err := rpcClient.Put(cmd.Context(), args[0], args[1], version, value)
			if err != nil {
				return err
			}
			fmt.Printf("writer=%s, seq=%d\n", res.Writer, res.LogSeq)
			return nil
		},
	}
	appendCmd = &cobra.Command{
		Use:   "append [db] [value]",
		Short: "Appends a value without key to the log",
		Long:  "Appends a value without key to the log. If value is -, it is read from stdin.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(args[1])
			if err != nil {
				return err
			}
			res, err := rpcClient.Append(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			fmt.Printf("writer=%s, seq=%d\n", res.Writer, res.LogSeq)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [db] [key]",
		Short: "Reads the latest value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := rpcClient.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		},
	}
	seqCmd = &cobra.Command{
		Use:   "seq [db] [log_seq]",
		Short: "Reads the row at a log seq",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logSeq, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("log_seq must be a number: %w", err)
			}
			rec, err := rpcClient.GetSeq(cmd.Context(), args[0], logSeq)
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		},
	}
	maxCmd = &cobra.Command{
		Use:   "max [db]",
		Short: "Prints the greatest log seq known to the node that answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logSeq, err := rpcClient.MaxLogSeq(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("max_log_seq=%d\n", logSeq)
			return nil
		},
	}
)

// readValue returns arg as value, or stdin if arg is -
func readValue(arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	value, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return value, nil
}

func printRecord(rec *client.Record) {
	fmt.Println(util.FormatRecord(rec))
}
