package wire

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, CmdExecuteQueryPlanFragments, []byte("payload")))

	code, payload, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdExecuteQueryPlanFragments, code)
	require.Equal(t, []byte("payload"), payload)
}

func TestReadRequestRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, CmdTick, nil))
	_, _, err := ReadRequest(&buf)
	require.NoError(t, err)

	var bad bytes.Buffer
	bad.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, _, err = ReadRequest(&bad)
	require.Error(t, err)
}

type fakeHandler struct {
	calls []CommandCode
}

func (h *fakeHandler) Dispatch(code CommandCode, payload []byte) (Status, []byte) {
	h.calls = append(h.calls, code)
	if code == CmdTick {
		return StatusSuccess, []byte("ok")
	}
	return StatusError, nil
}

func TestServeDispatchesUntilTerminate(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	h := &fakeHandler{}
	done := make(chan error, 1)
	go func() { done <- Serve(server, h) }()

	require.NoError(t, WriteRequest(client, CmdTick, nil))
	status, body, err := readReplyFrom(client)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, []byte("ok"), body)

	require.NoError(t, WriteRequest(client, CmdTerminate, nil))
	require.NoError(t, <-done)
	require.Equal(t, []CommandCode{CmdTick}, h.calls)
}

func TestServeReturnsNilOnEOF(t *testing.T) {
	client, server := net.Pipe()
	h := &fakeHandler{}
	done := make(chan error, 1)
	go func() { done <- Serve(server, h) }()

	client.Close()
	require.NoError(t, <-done)
}

func readReplyFrom(r io.Reader) (Status, []byte, error) {
	var statusByte [1]byte
	if _, err := io.ReadFull(r, statusByte[:]); err != nil {
		return 0, nil, err
	}
	rest, err := io.ReadAll(io.LimitReader(r, 2))
	if err != nil {
		return 0, nil, err
	}
	return Status(statusByte[0]), rest, nil
}
