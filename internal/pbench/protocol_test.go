package pbench

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseBytes(t *testing.T) {
	want := []byte{0x2B, 0x04, 0x00, 0x00, 0x00, 'p', 'o', 'n', 'g'}
	assert.Equal(t, want, NewResponse())
	assert.Len(t, NewResponse(), ResponseSize)
}

type serveResult struct {
	n   uint64
	err error
}

func servePipe(t *testing.T) (net.Conn, <-chan serveResult) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan serveResult, 1)
	go func() {
		defer server.Close()
		n, err := Serve(server, NewResponse(), nil)
		done <- serveResult{n, err}
	}()
	return client, done
}

func TestServeAnswersAnyRequestByte(t *testing.T) {
	client, done := servePipe(t)

	buf := make([]byte, ResponseSize)
	for _, b := range []byte{0x00, 0x2B, 0xFF} {
		_, err := client.Write([]byte{b})
		require.NoError(t, err)
		_, err = io.ReadFull(client, buf)
		require.NoError(t, err)
		assert.Equal(t, canonical, buf)
	}
	require.NoError(t, client.Close())

	r := <-done
	assert.NoError(t, r.err)
	assert.Equal(t, uint64(3), r.n)
}

func TestServeCleanCloseWithoutExchanges(t *testing.T) {
	client, done := servePipe(t)
	require.NoError(t, client.Close())

	r := <-done
	assert.NoError(t, r.err)
	assert.Zero(t, r.n)
}

type failingStream struct {
	err error
}

func (f failingStream) Read([]byte) (int, error)  { return 0, f.err }
func (f failingStream) Write([]byte) (int, error) { return 0, f.err }

func TestServePropagatesReadErrors(t *testing.T) {
	reset := errors.New("connection reset by peer")
	_, err := Serve(failingStream{reset}, canonical, nil)
	assert.ErrorIs(t, err, reset)
}

type scriptedStream struct {
	in  *bytes.Reader
	out bytes.Buffer
	err error
}

func (s *scriptedStream) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *scriptedStream) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.out.Write(p)
}

func TestServeCountsExchanges(t *testing.T) {
	s := &scriptedStream{in: bytes.NewReader([]byte{1, 2, 3, 4})}
	var hooked int
	n, err := Serve(s, canonical, func() { hooked++ })
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	assert.Equal(t, 4, hooked)
	assert.Equal(t, bytes.Repeat(canonical, 4), s.out.Bytes())
}

func TestServePropagatesWriteErrors(t *testing.T) {
	broken := errors.New("broken pipe")
	s := &scriptedStream{in: bytes.NewReader([]byte{1}), err: broken}
	n, err := Serve(s, canonical, nil)
	assert.ErrorIs(t, err, broken)
	assert.Zero(t, n)
}

func TestExchange(t *testing.T) {
	client, done := servePipe(t)

	buf := make([]byte, ResponseSize)
	require.NoError(t, Exchange(client, buf))
	require.NoError(t, Exchange(client, buf))
	require.NoError(t, client.Close())
	r := <-done
	assert.NoError(t, r.err)
	assert.Equal(t, uint64(2), r.n)
}

func TestExchangeRejectsMalformedResponse(t *testing.T) {
	bad := append([]byte{'-'}, canonical[1:]...)
	s := &scriptedStream{in: bytes.NewReader(bad)}
	err := Exchange(s, make([]byte, ResponseSize))
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, []byte{0}, s.out.Bytes())
}

func TestExchangeShortResponse(t *testing.T) {
	s := &scriptedStream{in: bytes.NewReader(canonical[:4])}
	err := Exchange(s, make([]byte, ResponseSize))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
