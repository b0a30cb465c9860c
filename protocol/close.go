// File: protocol/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close frame payloads: a big-endian status code followed by a UTF-8 reason.

package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/momentics/hioload-relay/api"
)

// maxCloseReason keeps code + reason within a control frame.
const maxCloseReason = MaxControlPayload - 2

// CloseError is returned by ReadMessage when the peer sent a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed by peer: %d", e.Code)
	}
	return fmt.Sprintf("websocket closed by peer: %d %s", e.Code, e.Reason)
}

// EncodeClosePayload builds a close frame body. code 0 yields an empty body;
// reasons longer than the control frame allows are truncated on a rune
// boundary.
func EncodeClosePayload(code int, reason string) []byte {
	if code == 0 {
		return nil
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	buf := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(code))
	return append(buf, reason...)
}

// DecodeClosePayload parses a close frame body. An empty body maps to
// api.CloseNoStatus.
func DecodeClosePayload(p []byte) (int, string, error) {
	switch len(p) {
	case 0:
		return api.CloseNoStatus, "", nil
	case 1:
		return 0, "", fmt.Errorf("%w: truncated close payload", ErrProtocolViolation)
	}
	code := int(binary.BigEndian.Uint16(p))
	if !api.ValidCloseCode(code) {
		return 0, "", fmt.Errorf("%w: close code %d", ErrProtocolViolation, code)
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", fmt.Errorf("%w: close reason is not UTF-8", ErrProtocolViolation)
	}
	return code, string(reason), nil
}
