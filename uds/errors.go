package uds

import "fmt"

// NegativeResponseError wraps a 0x7F negative response, mirroring the
// teacher's UDSError but under this repo's naming.
type NegativeResponseError struct {
	ServiceID byte
	NRC       byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("uds: negative response SID=0x%02X NRC=0x%02X (%s)", e.ServiceID, e.NRC, nrcDescription(e.NRC))
}

// IsRetryable reports whether Client.Request resends the request after a
// backoff, per spec §5's busy-NRC handling (0x21/0x23). 0x78 is
// handled inline by extending the deadline, not by retrying, so it is not
// included here.
func (e *NegativeResponseError) IsRetryable() bool {
	switch e.NRC {
	case NRCBusyRepeatRequest, NRCBusy:
		return true
	default:
		return false
	}
}

// IsSecurityDenied reports whether the ECU rejected the security access
// attempt outright.
func (e *NegativeResponseError) IsSecurityDenied() bool {
	return e.NRC == NRCSecurityAccessDenied || e.NRC == NRCInvalidKey || e.NRC == NRCExceedNumberOfAttempts
}

// UnexpectedResponseError is returned when the response SID does not match
// request SID+0x40 and it isn't a negative response either.
type UnexpectedResponseError struct {
	Expected, Got byte
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("uds: unexpected response SID 0x%02X, expected 0x%02X", e.Got, e.Expected)
}
