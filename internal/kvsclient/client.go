// Package kvsclient is a small TCP client for the wire protocol of spec
// §4.8, used by the kvs-client CLI and its REPL.
package kvsclient

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/arjunroy/kvs/internal/protocol"
)

// DialTimeout bounds connection attempts so an unreachable --addr fails
// within a bounded time, per spec §8 scenario 6.
const DialTimeout = 5 * time.Second

// Conn is one connection to a kvs-server, good for any number of
// sequential requests (the wire protocol is line-terminated and does not
// require a fresh connection per request).
type Conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

// Dial connects to addr.
func Dial(addr string) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	return &Conn{nc: nc, br: bufio.NewReader(nc), bw: bufio.NewWriter(nc)}, nil
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

func (c *Conn) do(req protocol.Request) (protocol.Response, error) {
	if err := protocol.WriteRequest(c.bw, req); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}

	resp, err := protocol.ReadResponse(c.br)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}

	return resp, nil
}

// Get issues a GET request. ok is false and err is nil on a miss.
func (c *Conn) Get(key string) (val string, ok bool, err error) {
	resp, err := c.do(protocol.Request{Op: protocol.OpGet, Key: key})
	if err != nil {
		return "", false, err
	}

	if resp.Error != "" {
		return "", false, nil
	}

	return resp.Result, true, nil
}

// Set issues a SET request.
func (c *Conn) Set(key, val string) error {
	resp, err := c.do(protocol.Request{Op: protocol.OpSet, Key: key, Val: val})
	if err != nil {
		return err
	}

	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}

	return nil
}

// ErrKeyNotFound is returned by Remove when the server reports the key
// was absent. The caller is responsible for printing the spec-pinned
// "Key not found" text; this error's own message is lowercase per Go
// convention.
var ErrKeyNotFound = errors.New("key not found")

// Remove issues an RM request.
func (c *Conn) Remove(key string) error {
	resp, err := c.do(protocol.Request{Op: protocol.OpRm, Key: key})
	if err != nil {
		return err
	}

	if resp.Error != "" {
		return ErrKeyNotFound
	}

	return nil
}
