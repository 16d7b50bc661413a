// Package login implements the interactive login handshakes as resumable
// state machines. A Flow yields a Prompt at every point where the handshake
// waits for the outside world and accepts the answer on the next Step.
package login

import (
	"errors"
	"fmt"

	"github.com/pmkol/ichika-x/pkg/entity"
)

// Prompt is what a Flow reports after a Step.
type Prompt interface {
	prompt()
}

// Success ends a flow.
type Success struct {
	AccountInfo entity.AccountInfo
}

// RequestSMS asks for the code sent to Phone. An empty answer falls back to
// manual verification.
type RequestSMS struct {
	Message string
	Phone   string
}

// DeviceLocked asks the user to verify at VerifyURL. Any answer resumes.
type DeviceLocked struct {
	Message   string
	VerifyURL string
}

// NeedCaptcha asks for the ticket obtained by solving the captcha at
// VerifyURL.
type NeedCaptcha struct {
	VerifyURL string
}

// DisplayQRCode carries a fresh QR code image to scan.
type DisplayQRCode struct {
	Image []byte
}

type WaitingForScan struct{}

type WaitingForConfirm struct{}

// QRCodeExpired reports the current code timed out or was canceled. The
// next Step fetches a new one.
type QRCodeExpired struct {
	Reason string
}

// UINMismatch reports a code confirmed by another account. The next Step
// fetches a new one.
type UINMismatch struct {
	Expected int64
	Actual   int64
}

func (*Success) prompt()           {}
func (*RequestSMS) prompt()        {}
func (*DeviceLocked) prompt()      {}
func (*NeedCaptcha) prompt()       {}
func (*DisplayQRCode) prompt()     {}
func (*WaitingForScan) prompt()    {}
func (*WaitingForConfirm) prompt() {}
func (*QRCodeExpired) prompt()     {}
func (*UINMismatch) prompt()       {}

var (
	ErrAccountFrozen     = errors.New("account frozen")
	ErrTooManySMSRequest = errors.New("too many sms requests")
	ErrNoVerifyURL       = errors.New("server did not provide a verify url")
	ErrLoginFailed       = errors.New("login failed")
	ErrFlowFinished      = errors.New("login flow already finished")
)

// UnknownStatusError is a login response the flow cannot handle.
type UnknownStatusError struct {
	Status  int32
	Message string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown login status %d: %s", e.Status, e.Message)
}
