package console

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/ValentinKolb/kvlog/rpc/client"
	"strconv"
	"strings"
)

var errExit = errors.New("exit")

// logClient is the part of client.Client used by the console
type logClient interface {
	Put(ctx context.Context, db, key string, version *uint64, value []byte) (client.PutResult, error)
	Append(ctx context.Context, db string, value []byte) (client.PutResult, error)
	Get(ctx context.Context, db, key string) (*client.Record, error)
	GetSeq(ctx context.Context, db string, logSeq uint64) (*client.Record, error)
	MaxLogSeq(ctx context.Context, db string) (uint64, error)
}

// shell keeps the state of one console session
type shell struct {
	client logClient
	db     string
}

func newShell(c logClient, db string) *shell {
	return &shell{client: c, db: db}
}

func (s *shell) prompt() string {
	return fmt.Sprintf("kvlog:%s> ", s.db)
}

type command struct {
	name  string
	usage string
	min   int
	max   int
	run   func(s *shell, ctx context.Context, args []string) (string, error)
}

var commands []command

func init() {
	commands = []command{
		{"use", "use <db>", 1, 1, (*shell).use},
		{"put", "put <key> <value> [version]", 2, 3, (*shell).put},
		{"append", "append <value>", 1, 1, (*shell).append},
		{"get", "get <key>", 1, 1, (*shell).get},
		{"seq", "seq <log_seq>", 1, 1, (*shell).seq},
		{"max", "max", 0, 0, (*shell).max},
		{"help", "help", 0, 0, (*shell).help},
		{"exit", "exit", 0, 0, func(*shell, context.Context, []string) (string, error) { return "", errExit }},
	}
}

// execute runs one console line and returns its output
func (s *shell) execute(ctx context.Context, line string) (string, error) {
	fields, err := splitLine(line)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", nil
	}

	name, args := strings.ToLower(fields[0]), fields[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if len(args) < c.min || len(args) > c.max {
			return "", fmt.Errorf("usage: %s", c.usage)
		}
		return c.run(s, ctx, args)
	}
	return "", fmt.Errorf("unknown command %q, type help for a list of commands", fields[0])
}

func (s *shell) use(_ context.Context, args []string) (string, error) {
	s.db = args[0]
	return "", nil
}

func (s *shell) put(ctx context.Context, args []string) (string, error) {
	var version *uint64
	if len(args) == 3 {
		v, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("version must be a number")
		}
		version = &v
	}
	res, err := s.client.Put(ctx, s.db, args[0], version, []byte(args[1]))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("writer=%s, seq=%d", res.Writer, res.LogSeq), nil
}

func (s *shell) append(ctx context.Context, args []string) (string, error) {
	res, err := s.client.Append(ctx, s.db, []byte(args[0]))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("writer=%s, seq=%d", res.Writer, res.LogSeq), nil
}

func (s *shell) get(ctx context.Context, args []string) (string, error) {
	rec, err := s.client.Get(ctx, s.db, args[0])
	if err != nil {
		return "", err
	}
	return util.FormatRecord(rec), nil
}

func (s *shell) seq(ctx context.Context, args []string) (string, error) {
	logSeq, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("log seq must be a number")
	}
	rec, err := s.client.GetSeq(ctx, s.db, logSeq)
	if err != nil {
		return "", err
	}
	return util.FormatRecord(rec), nil
}

func (s *shell) max(ctx context.Context, _ []string) (string, error) {
	logSeq, err := s.client.MaxLogSeq(ctx, s.db)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("max_log_seq=%d", logSeq), nil
}

func (s *shell) help(context.Context, []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("commands:")
	for _, c := range commands {
		sb.WriteString("\n  ")
		sb.WriteString(c.usage)
	}
	return sb.String(), nil
}
