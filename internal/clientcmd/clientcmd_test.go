package clientcmd_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunroy/kvs/internal/clientcmd"
	"github.com/arjunroy/kvs/internal/engine"
	"github.com/arjunroy/kvs/internal/server"
	kvfs "github.com/arjunroy/kvs/pkg/fs"
)

func startServer(t *testing.T) string {
	t.Helper()

	eng, err := engine.Open(kvfs.NewReal(), t.TempDir(), engine.Options{})
	require.NoError(t, err)

	srv, err := server.New("127.0.0.1:0", eng, server.Options{PoolSize: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
		<-done
		_ = eng.Close()
	})

	return srv.Addr()
}

// run executes the kvs-client CLI with HOME pointed at a scratch directory
// (so no user-level global config leaks into the test) and captures
// stdout/stderr. The working directory is left unchanged.
func run(t *testing.T, addr string, args ...string) (code int, stdout, stderr string) {
	t.Helper()

	outFile, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer outFile.Close()

	errFile, err := os.CreateTemp(t.TempDir(), "err")
	require.NoError(t, err)
	defer errFile.Close()

	env := map[string]string{"HOME": t.TempDir()}

	fullArgs := append([]string{"--addr", addr}, args...)

	code = clientcmd.Run(outFile, errFile, fullArgs, env)

	outData, err := os.ReadFile(outFile.Name())
	require.NoError(t, err)

	errData, err := os.ReadFile(errFile.Name())
	require.NoError(t, err)

	return code, string(outData), string(errData)
}

func Test_Client_SetGet(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	code, _, stderr := run(t, addr, "set", "k", "v")
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := run(t, addr, "get", "k")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "v\n", stdout)
}

func Test_Client_Get_Miss_PrintsKeyNotFoundOnStdout_ExitZero(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	code, stdout, stderr := run(t, addr, "get", "missing")

	assert.Equal(t, 0, code)
	assert.Equal(t, "Key not found\n", stdout)
	assert.Empty(t, stderr)
}

func Test_Client_Remove_Miss_PrintsKeyNotFoundOnStderr_ExitNonZero(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	code, stdout, stderr := run(t, addr, "rm", "missing")

	assert.NotEqual(t, 0, code)
	assert.Equal(t, "Key not found\n", stderr)
	assert.Empty(t, stdout)
}

func Test_Client_UnknownCommand_PrintsUsage(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	code, _, stderr := run(t, addr, "bogus")

	assert.NotEqual(t, 0, code)
	assert.Contains(t, stderr, "unknown command")
}

func Test_Client_ConfigPrint(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	code, stdout, stderr := run(t, addr, "config", "print")

	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "addr:")
	assert.Contains(t, stdout, "engine:")
}

func Test_Client_NoArgs_PrintsUsage(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	code, _, stderr := run(t, addr)

	assert.NotEqual(t, 0, code)
	assert.Contains(t, stderr, "Usage:")
}
