// Package protocol implements the one-line-per-request TCP wire contract
// of spec §4.8: requests reuse the record codec restricted to
// Get/Set/Rm, responses are a small two-field JSON object.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/arjunroy/kvs/internal/engine"
	"github.com/arjunroy/kvs/internal/engineapi"
)

// Op identifies which operation a Request carries.
type Op uint8

const (
	OpGet Op = iota + 1
	OpSet
	OpRm
)

// Request is one decoded client request line.
type Request struct {
	Op  Op
	Key string
	Val string
}

// wireRequest mirrors engine's wireRecord shape but adds the Get variant,
// which is never persisted to the log (spec §3: "Get is never logged")
// but is part of the wire contract.
type wireRequest struct {
	Get *struct {
		Key string `json:"key"`
	} `json:"Get,omitempty"`
	Set *struct {
		Key string `json:"key"`
		Val string `json:"val"`
	} `json:"Set,omitempty"`
	Rm *struct {
		Key string `json:"key"`
	} `json:"Rm,omitempty"`
}

// Response is the wire response shape: {"error": string?, "result": string}.
type Response struct {
	Error  string `json:"error,omitempty"`
	Result string `json:"result"`
}

// ErrNotUTF8 is returned when a decoded key or value is not valid UTF-8,
// per spec §7's Utf8 error kind.
var ErrNotUTF8 = fmt.Errorf("%w: non-UTF-8 key or value", engineapi.ErrParser)

// Validate reports ErrNotUTF8 if r's key or value is not valid UTF-8. The
// server runs this before dispatching any request to the engine.
func (r Request) Validate() error {
	if !utf8.ValidString(r.Key) || !utf8.ValidString(r.Val) {
		return ErrNotUTF8
	}

	return nil
}

// ReadRequest reads and decodes one request line from br.
func ReadRequest(br *bufio.Reader) (Request, error) {
	payload, _, err := engine.ReadFrame(br)
	if err != nil {
		return Request{}, err
	}

	var w wireRequest
	if err := json.Unmarshal(payload, &w); err != nil {
		return Request{}, fmt.Errorf("%w: request %q: %v", engineapi.ErrParser, payload, err)
	}

	switch {
	case w.Get != nil:
		return Request{Op: OpGet, Key: w.Get.Key}, nil
	case w.Set != nil:
		return Request{Op: OpSet, Key: w.Set.Key, Val: w.Set.Val}, nil
	case w.Rm != nil:
		return Request{Op: OpRm, Key: w.Rm.Key}, nil
	default:
		return Request{}, fmt.Errorf("%w: request %q: no recognized variant", engineapi.ErrParser, payload)
	}
}

// EncodeRequest renders a full framed request line: "<len>\n<payload>\n".
func EncodeRequest(r Request) ([]byte, error) {
	var w wireRequest

	switch r.Op {
	case OpGet:
		w.Get = &struct {
			Key string `json:"key"`
		}{Key: r.Key}
	case OpSet:
		w.Set = &struct {
			Key string `json:"key"`
			Val string `json:"val"`
		}{Key: r.Key, Val: r.Val}
	case OpRm:
		w.Rm = &struct {
			Key string `json:"key"`
		}{Key: r.Key}
	default:
		return nil, fmt.Errorf("unknown request op %d", r.Op)
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	return frame(payload), nil
}

// WriteResponse encodes and flushes one response line to w.
func WriteResponse(w *bufio.Writer, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	if _, err := w.Write(payload); err != nil {
		return err
	}

	if err := w.WriteByte('\n'); err != nil {
		return err
	}

	return w.Flush()
}

// ReadResponse reads and decodes one response line.
func ReadResponse(br *bufio.Reader) (Response, error) {
	line, err := br.ReadString('\n')
	if err != nil && len(line) == 0 {
		return Response{}, err
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Response{}, fmt.Errorf("%w: response %q: %v", engineapi.ErrParser, line, err)
	}

	return resp, nil
}

func frame(payload []byte) []byte {
	header := fmt.Sprintf("%d\n", len(payload))
	out := make([]byte, 0, len(header)+len(payload)+1)
	out = append(out, header...)
	out = append(out, payload...)
	out = append(out, '\n')

	return out
}

// WriteRequest encodes and flushes a full request line.
func WriteRequest(w *bufio.Writer, r Request) error {
	data, err := EncodeRequest(r)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return err
	}

	return w.Flush()
}
