package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
)

// FrameDelimiter terminates every text frame on a stream.
const FrameDelimiter = "\r\n"

// EncodeFrame returns the UTF-8 bytes of text followed by the delimiter.
func EncodeFrame(text string) []byte {
	out := make([]byte, 0, len(text)+len(FrameDelimiter))
	out = append(out, text...)
	return append(out, FrameDelimiter...)
}

// WriteFrame writes one delimited frame and flushes it.
func WriteFrame(w *bufio.Writer, text string) error {
	if _, err := w.Write(EncodeFrame(text)); err != nil {
		return err
	}
	return w.Flush()
}

// FrameDecoder splits a byte stream into delimited frames.
//
// A frame ends when the last two accumulated bytes are CR LF. A lone CR or
// LF is part of the payload.
type FrameDecoder struct {
	r   *bufio.Reader
	buf []byte
}

// NewFrameDecoder wraps r for frame decoding.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// Next returns the next frame without its delimiter. It returns io.EOF when
// the stream ends, discarding any partial frame, and an error wrapping
// ErrLinkLost on any other read failure.
func (d *FrameDecoder) Next() (string, error) {
	d.buf = d.buf[:0]
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return "", io.EOF
			}
			return "", fmt.Errorf("%w: read frame: %v", ErrLinkLost, err)
		}

		d.buf = append(d.buf, b)
		if n := len(d.buf); n >= 2 && d.buf[n-2] == '\r' && d.buf[n-1] == '\n' {
			return string(d.buf[:n-2]), nil
		}
	}
}
