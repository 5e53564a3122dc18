// Command kvs-server runs the networked key-value store described in
// spec §6: a TCP listener serving GET/SET/RM requests against a
// Bitcask-family log directory (or, behind --engine sled, a SQLite
// backend).
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/arjunroy/kvs/internal/servercmd"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(servercmd.Run(os.Stdout, os.Stderr, os.Args[1:], env, sigCh))
}
