package clientcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/arjunroy/kvs/internal/cli"
	"github.com/arjunroy/kvs/internal/config"
	"github.com/arjunroy/kvs/internal/kvsclient"
)

// replCmd is a line-editing interactive shell for ad hoc get/set/rm
// sessions against one connection, supplementing spec §6's one-shot CLI
// (see SPEC_FULL.md's Supplemented features).
func replCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Usage: "repl",
		Short: "Interactive get/set/rm shell",
		Exec: func(_ context.Context, io *cli.IO, _ []string) error {
			conn, err := kvsclient.Dial(cfg.Addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			return runREPL(conn, io)
		},
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvs_client_history")
}

func runREPL(conn *kvsclient.Conn, out *cli.IO) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(replCompleter)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}

	out.Println("kvs-client repl. Type 'help' for commands, 'exit' to quit.")

	for {
		input, err := line.Prompt("kvs> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			saveHistory(line)
			return nil
		case "help", "?":
			printREPLHelp(out)
		case "get":
			replGet(conn, out, args)
		case "set":
			replSet(conn, out, args)
		case "rm", "del":
			replRemove(conn, out, args)
		default:
			out.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}

	saveHistory(line)

	return nil
}

func saveHistory(line *liner.State) {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}

func replCompleter(input string) []string {
	commands := []string{"get", "set", "rm", "del", "help", "exit", "quit", "q"}

	var out []string

	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(input)) {
			out = append(out, c)
		}
	}

	return out
}

func printREPLHelp(out *cli.IO) {
	out.Println("Commands:")
	out.Println("  get <key>          Get a value")
	out.Println("  set <key> <value>  Set a value")
	out.Println("  rm <key>           Remove a key")
	out.Println("  help               Show this help")
	out.Println("  exit               Quit")
}

func replGet(conn *kvsclient.Conn, out *cli.IO, args []string) {
	if len(args) != 1 {
		out.Println("usage: get <key>")
		return
	}

	val, ok, err := conn.Get(args[0])
	if err != nil {
		out.Printf("error: %v\n", err)
		return
	}

	if !ok {
		out.Println("Key not found")
		return
	}

	out.Println(val)
}

func replSet(conn *kvsclient.Conn, out *cli.IO, args []string) {
	if len(args) != 2 {
		out.Println("usage: set <key> <value>")
		return
	}

	if err := conn.Set(args[0], args[1]); err != nil {
		out.Printf("error: %v\n", err)
		return
	}

	out.Println("OK")
}

func replRemove(conn *kvsclient.Conn, out *cli.IO, args []string) {
	if len(args) != 1 {
		out.Println("usage: rm <key>")
		return
	}

	if err := conn.Remove(args[0]); err != nil {
		if errors.Is(err, kvsclient.ErrKeyNotFound) {
			out.Println("Key not found")
			return
		}

		out.Printf("error: %v\n", err)

		return
	}

	out.Println("OK")
}
