package protocol_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunroy/kvs/internal/protocol"
)

func Test_Request_EncodeRead_RoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []protocol.Request{
		{Op: protocol.OpGet, Key: "k"},
		{Op: protocol.OpSet, Key: "k", Val: "v"},
		{Op: protocol.OpRm, Key: "k"},
	}

	for _, want := range testCases {
		data, err := protocol.EncodeRequest(want)
		require.NoError(t, err)

		got, err := protocol.ReadRequest(bufio.NewReader(bytes.NewReader(data)))
		require.NoError(t, err)

		assert.Equal(t, want, got)
	}
}

func Test_Response_WriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []protocol.Response{
		{Result: "value"},
		{Error: "Key not found"},
	}

	for _, want := range testCases {
		var buf bytes.Buffer
		bw := bufio.NewWriter(&buf)

		require.NoError(t, protocol.WriteResponse(bw, want))

		got, err := protocol.ReadResponse(bufio.NewReader(&buf))
		require.NoError(t, err)

		assert.Equal(t, want, got)
	}
}

func Test_Request_Validate_RejectsNonUTF8(t *testing.T) {
	t.Parallel()

	req := protocol.Request{Op: protocol.OpSet, Key: "k", Val: string([]byte{0xff, 0xfe})}

	assert.ErrorIs(t, req.Validate(), protocol.ErrNotUTF8)
}

func Test_Request_Validate_AcceptsUnicode(t *testing.T) {
	t.Parallel()

	req := protocol.Request{Op: protocol.OpSet, Key: "ключ", Val: "значение"}

	assert.NoError(t, req.Validate())
}
