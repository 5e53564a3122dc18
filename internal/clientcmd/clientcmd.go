// Package clientcmd wires the kvs-client binary: get/set/rm/repl/config
// subcommands against a running kvs-server, per spec §6's client CLI
// contract.
package clientcmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/arjunroy/kvs/internal/cli"
	"github.com/arjunroy/kvs/internal/config"
	"github.com/arjunroy/kvs/internal/kvsclient"
)

// Run is the kvs-client entry point.
func Run(out, errOut *os.File, args []string, env map[string]string) int {
	io := cli.NewIO(out, errOut)

	globalFlags := flag.NewFlagSet("kvs-client", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(discardWriter{})

	addrFlag := globalFlags.String("addr", "", "server address IP:PORT (default 127.0.0.1:4000)")
	configFlag := globalFlags.String("config", "", "explicit config file")

	if err := globalFlags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(io)
			return 0
		}

		io.ErrPrintln("error:", err)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{ConfigPath: *configFlag, Env: env})
	if err != nil {
		io.ErrPrintln("error:", err)
		return 1
	}

	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		printUsage(io)
		return 1
	}

	commands := commandTable(cfg)

	cmd, ok := commands[rest[0]]
	if !ok {
		io.ErrPrintln("error: unknown command:", rest[0])
		printUsage(io)

		return 1
	}

	ctx := context.Background()

	return cmd.Run(ctx, io, rest[1:])
}

func commandTable(cfg config.Config) map[string]*cli.Command {
	cmds := []*cli.Command{
		getCmd(cfg),
		setCmd(cfg),
		rmCmd(cfg),
		replCmd(cfg),
		configCmd(cfg),
	}

	table := make(map[string]*cli.Command, len(cmds))
	for _, c := range cmds {
		table[c.Name()] = c
	}

	return table
}

func printUsage(io *cli.IO) {
	io.ErrPrintln("Usage: kvs-client [--addr IP:PORT] [--config FILE] <command> [args]")
	io.ErrPrintln()
	io.ErrPrintln("Commands:")
	io.ErrPrintln("  get <key>              Get a value")
	io.ErrPrintln("  set <key> <value>      Set a value")
	io.ErrPrintln("  rm <key>               Remove a key")
	io.ErrPrintln("  repl                   Interactive shell")
	io.ErrPrintln("  config print           Print resolved configuration")
}

func getCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Usage: "get <key>",
		Short: "Get a value by key",
		Exec: func(_ context.Context, io *cli.IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: get <key>")
			}

			conn, err := kvsclient.Dial(cfg.Addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			val, ok, err := conn.Get(args[0])
			if err != nil {
				return err
			}

			if !ok {
				io.Println("Key not found")
				return nil
			}

			io.Println(val)

			return nil
		},
	}
}

func setCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Usage: "set <key> <value>",
		Short: "Set a value",
		Exec: func(_ context.Context, _ *cli.IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: set <key> <value>")
			}

			conn, err := kvsclient.Dial(cfg.Addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			return conn.Set(args[0], args[1])
		},
	}
}

func rmCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Usage: "rm <key>",
		Short: "Remove a key",
		Exec: func(_ context.Context, io *cli.IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: rm <key>")
			}

			conn, err := kvsclient.Dial(cfg.Addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Remove(args[0]); err != nil {
				if errors.Is(err, kvsclient.ErrKeyNotFound) {
					io.ErrPrintln("Key not found")
					return &cli.ExitError{Code: 1}
				}

				return err
			}

			return nil
		},
	}
}

func configCmd(cfg config.Config) *cli.Command {
	print := &cli.Command{
		Usage: "print",
		Short: "Print resolved configuration",
		Exec: func(_ context.Context, io *cli.IO, _ []string) error {
			io.Printf("addr:   %s\n", cfg.Addr)
			io.Printf("engine: %s\n", cfg.Engine)

			if cfg.Sources.Global != "" {
				io.Printf("global config: %s\n", cfg.Sources.Global)
			}

			if cfg.Sources.Project != "" {
				io.Printf("project config: %s\n", cfg.Sources.Project)
			}

			return nil
		},
	}

	return &cli.Command{
		Usage: "config <print>",
		Short: "Inspect configuration",
		Exec: func(ctx context.Context, io *cli.IO, args []string) error {
			if len(args) == 0 || args[0] != "print" {
				return fmt.Errorf("usage: config print")
			}

			return print.Exec(ctx, io, args[1:])
		},
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
