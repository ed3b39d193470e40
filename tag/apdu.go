// Package tag exchanges short text messages over contactless APDUs. One side
// acts as a reader, the other emulates a card that answers a SELECT for the
// configured application identifier.
package tag

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PayloadMarker prefixes every text-carrying command and response.
const PayloadMarker byte = 0xD2

var (
	// ResponseOK is the success status word.
	ResponseOK = []byte{0x90, 0x00}
	// ResponseUnknown answers any command the host does not handle.
	ResponseUnknown = []byte{0x6A, 0x82}

	selectHeader = []byte{0x00, 0xA4, 0x04, 0x00}
)

// BuildSelect returns the SELECT-by-name command for a hex application ID:
// header, Lc, AID, then an Le of zero.
func BuildSelect(aid string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(aid))
	if err != nil {
		return nil, fmt.Errorf("decode application id: %w", err)
	}
	if len(raw) == 0 || len(raw) > 16 {
		return nil, errors.New("application id must be 1 to 16 bytes")
	}

	command := make([]byte, 0, len(selectHeader)+len(raw)+2)
	command = append(command, selectHeader...)
	command = append(command, byte(len(raw)))
	command = append(command, raw...)
	return append(command, 0x00), nil
}

// EncodePayload frames text as a payload command or response.
func EncodePayload(text string) []byte {
	out := make([]byte, 0, len(text)+1)
	out = append(out, PayloadMarker)
	return append(out, text...)
}

// DecodePayload returns the text carried after the marker. ok is false when
// data does not start with the marker or is not valid UTF-8.
func DecodePayload(data []byte) (text string, ok bool) {
	if len(data) == 0 || data[0] != PayloadMarker {
		return "", false
	}
	body := data[1:]
	if !utf8.Valid(body) {
		return "", false
	}
	return string(body), true
}

// IsResponseOK reports whether response is exactly the success status word.
func IsResponseOK(response []byte) bool {
	return bytes.Equal(response, ResponseOK)
}
