// Command kvs-client is the CLI/REPL client for kvs-server, per spec §6.
package main

import (
	"os"
	"strings"

	"github.com/arjunroy/kvs/internal/clientcmd"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(clientcmd.Run(os.Stdout, os.Stderr, os.Args[1:], env))
}
