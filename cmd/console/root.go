package console

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"io"
	"os"
	"path/filepath"
)

var (
	// ConsoleCmd starts an interactive shell against a kvlog cluster
	ConsoleCmd = &cobra.Command{
		Use:   "console",
		Short: "Interactive shell for a kvlog cluster",
		Long:  "Interactive shell for a kvlog cluster. Type help for a list of commands.",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags
	util.SetupRPCClientFlags(ConsoleCmd)

	ConsoleCmd.Flags().String("db", "default", util.WrapString("Database selected at start, change it with: use <db>"))
}

func run(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	c, err := util.NewClient()
	if err != nil {
		return err
	}
	defer c.Close()

	db, _ := cmd.Flags().GetString("db")
	sh := newShell(c, db)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFile(),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("kvlog console, type help for a list of commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		out, err := sh.execute(cmd.Context(), line)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		} else if out != "" {
			fmt.Fprintln(rl.Stdout(), out)
		}
		rl.SetPrompt(sh.prompt())
	}
}

// completer completes the console commands
func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

// historyFile returns the path of the console history in the home directory
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kvlog_history")
}

// splitLine splits a console line into shell style fields: quotes group words
// and a backslash escapes the next character
func splitLine(line string) ([]string, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
