// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level constants.

package api

// WebSocket close codes used by the relay. 3001 and 3002 live in the
// application-defined range (3000-4999).
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseNoStatus      = 1005
	CloseAbnormal      = 1006
	CloseInvalidData   = 1007
	CloseMessageTooBig = 1009
	CloseInternalError = 1011
	CloseStopReconnect = 3001
	CloseReconnect     = 3002
)

// ValidCloseCode reports whether code may be sent in a close frame.
func ValidCloseCode(code int) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code >= 1000 && code <= 1014:
		return code != 1004 && code != CloseNoStatus && code != CloseAbnormal
	}
	return false
}
