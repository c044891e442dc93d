package pbench

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// RequestSize is the size of a ping. Its value is ignored by servers.
	RequestSize = 1
	// ResponseSize is the size of a pong: status marker, length, payload.
	ResponseSize = 1 + 4 + 4

	statusMarker = '+'
)

var (
	ErrBadResponse = errors.New("malformed response")

	payload   = []byte("pong")
	request   = [RequestSize]byte{0}
	canonical = NewResponse()
)

// NewResponse builds the fixed 9 byte reply. Servers build it once and share it
// read-only between all their connections.
func NewResponse() []byte {
	b := make([]byte, 0, ResponseSize)
	b = append(b, statusMarker)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// Serve answers every request byte read from rw with response until the peer
// closes the stream. A close at a message boundary returns a nil error; anything
// else is returned to the caller. onExchange may be nil.
func Serve(rw io.ReadWriter, response []byte, onExchange func()) (uint64, error) {
	var (
		req [RequestSize]byte
		n   uint64
	)
	for {
		if _, err := io.ReadFull(rw, req[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if _, err := rw.Write(response); err != nil {
			return n, err
		}
		n++
		if onExchange != nil {
			onExchange()
		}
	}
}

// Exchange sends one request on rw and waits for the full response, which is
// read into buf. buf must hold at least ResponseSize bytes.
func Exchange(rw io.ReadWriter, buf []byte) error {
	if _, err := rw.Write(request[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(rw, buf[:ResponseSize]); err != nil {
		return err
	}
	if !bytes.Equal(buf[:ResponseSize], canonical) {
		return ErrBadResponse
	}
	return nil
}
