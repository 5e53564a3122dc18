// Package server implements the TCP request server of spec §4.8: a
// listener, a thread pool, and a per-connection handler that decodes one
// request, invokes the engine, and writes one response.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/arjunroy/kvs/internal/engineapi"
	"github.com/arjunroy/kvs/internal/pool"
	"github.com/arjunroy/kvs/internal/protocol"
)

// Server owns a listener, a clonable engine handle, and a thread pool.
type Server struct {
	ln   net.Listener
	eng  engineapi.Engine
	pool *pool.Pool
	log  *slog.Logger
}

// Options configures New.
type Options struct {
	PoolSize int
	Logger   *slog.Logger
}

// New binds addr and constructs a Server. The listener is bound but
// accept has not started; call Serve to run the accept loop.
func New(addr string, eng engineapi.Engine, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		ln:   ln,
		eng:  eng,
		pool: pool.New(opts.PoolSize),
		log:  log,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve runs the accept loop until ctx is canceled or the listener is
// closed. Each accepted connection is dispatched to the thread pool with
// its own engine clone, per spec §4.8's main loop.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("accept: %w", err)
		}

		connEngine := s.eng.Clone()

		s.pool.Submit(func() {
			s.handleConn(conn, connEngine)
		})
	}
}

// Shutdown closes the listener (unblocking Serve) and drains the thread
// pool with a bounded join.
func (s *Server) Shutdown() error {
	_ = s.ln.Close()
	return s.pool.Shutdown()
}

// handleConn reads and serves exactly one request per iteration until the
// connection is closed or a framing error occurs; per spec §4.8, socket
// I/O errors are logged and terminate that connection only.
func (s *Server) handleConn(conn net.Conn, eng engineapi.Engine) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		req, err := protocol.ReadRequest(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("connection closed", "remote", conn.RemoteAddr(), "err", err)
			}

			return
		}

		resp, fatal := dispatch(eng, req)
		if fatal != nil {
			s.log.Error("fatal engine error", "err", fatal)
			return
		}

		if err := protocol.WriteResponse(bw, resp); err != nil {
			s.log.Debug("write response failed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// dispatch invokes eng for req and maps the result onto the wire
// response shape of spec §4.8. The second return value is non-nil only
// for errors that should terminate the connection rather than be
// reported to the client.
func dispatch(eng engineapi.Engine, req protocol.Request) (protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return protocol.Response{Error: "invalid UTF-8", Result: ""}, nil
	}

	switch req.Op {
	case protocol.OpGet:
		val, ok, err := eng.Get(req.Key)
		if err != nil {
			return protocol.Response{}, err
		}

		if !ok {
			return protocol.Response{Error: "Key not found", Result: ""}, nil
		}

		return protocol.Response{Result: val}, nil

	case protocol.OpSet:
		if err := eng.Set(req.Key, req.Val); err != nil {
			return protocol.Response{}, err
		}

		return protocol.Response{Result: ""}, nil

	case protocol.OpRm:
		err := eng.Remove(req.Key)
		if errors.Is(err, engineapi.ErrKeyNotFound) {
			return protocol.Response{Error: "Key not found", Result: ""}, nil
		}

		if err != nil {
			return protocol.Response{}, err
		}

		return protocol.Response{Result: ""}, nil

	default:
		return protocol.Response{Error: "unknown request", Result: ""}, nil
	}
}
