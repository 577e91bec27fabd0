package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrEndOfStream is returned when the peer closed the connection
// cleanly while a header or word was expected.
var ErrEndOfStream = errors.New("wire: end of stream")

// IoError wraps a lower-level read failure that isn't a clean close.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Header is the 4-byte packet header preceding a batch of words.
type Header struct {
	PacketSize uint32
}

// NWords returns the number of WordSize-byte words the header's
// PacketSize implies.
func (h Header) NWords() int {
	return int(h.PacketSize) / WordSize
}

// Decoder performs blocking, unbuffered reads of packet headers and
// words from an owned byte stream. Each call reads exactly the bytes
// it needs or returns ErrEndOfStream / *IoError; it never buffers
// ahead. The caller owns exactly one Decoder per connection.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps r for header/word decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadHeader blocks until a full 4-byte header has arrived.
func (d *Decoder) ReadHeader() (Header, error) {
	var buf [HeaderSize]byte
	if err := d.readFull(buf[:], "read header"); err != nil {
		return Header{}, err
	}
	return Header{PacketSize: binary.LittleEndian.Uint32(buf[:])}, nil
}

// ReadWord blocks until a full 16-byte word has arrived.
func (d *Decoder) ReadWord() (Word, error) {
	var w Word
	if err := d.readFull(w[:], "read word"); err != nil {
		return Word{}, err
	}
	return w, nil
}

func (d *Decoder) readFull(buf []byte, op string) error {
	_, err := io.ReadFull(d.r, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrEndOfStream
	default:
		return &IoError{Op: op, Err: err}
	}
}
