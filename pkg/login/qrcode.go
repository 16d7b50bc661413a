package login

import (
	"context"
	"fmt"

	"github.com/pmkol/ichika-x/pkg/engine"
)

type qrState uint8

const (
	qrFetch qrState = iota
	qrPoll
	qrDone
)

// QRCodeFlow logs in by QR code. Every Step either fetches a new code or
// polls the current one; answers are ignored. The caller paces the polls.
type QRCodeFlow struct {
	auth engine.Authenticator
	uin  int64

	state qrState
	sig   []byte
}

// NewQRCodeFlow creates a flow that only accepts a confirmation by uin.
func NewQRCodeFlow(auth engine.Authenticator, uin int64) *QRCodeFlow {
	return &QRCodeFlow{auth: auth, uin: uin}
}

func (f *QRCodeFlow) Step(ctx context.Context, _ string) (Prompt, error) {
	var (
		s   engine.QRCodeState
		err error
	)
	switch f.state {
	case qrFetch:
		s, err = f.auth.FetchQRCode(ctx)
	case qrPoll:
		s, err = f.auth.QueryQRCodeResult(ctx, f.sig)
	case qrDone:
		return nil, ErrFlowFinished
	}
	if err != nil {
		return nil, fmt.Errorf("qrcode login of %d: %w", f.uin, err)
	}
	return f.handle(ctx, s)
}

func (f *QRCodeFlow) handle(ctx context.Context, s engine.QRCodeState) (Prompt, error) {
	switch s := s.(type) {
	case *engine.QRCodeImageFetch:
		f.sig = s.Sig
		f.state = qrPoll
		return &DisplayQRCode{Image: s.Image}, nil
	case *engine.QRCodeWaitingForScan:
		f.state = qrPoll
		return &WaitingForScan{}, nil
	case *engine.QRCodeWaitingForConfirm:
		f.state = qrPoll
		return &WaitingForConfirm{}, nil
	case *engine.QRCodeTimeout:
		f.state = qrFetch
		return &QRCodeExpired{Reason: "timeout"}, nil
	case *engine.QRCodeCanceled:
		f.state = qrFetch
		return &QRCodeExpired{Reason: "canceled"}, nil
	case *engine.QRCodeConfirmed:
		if s.Uin != f.uin {
			f.state = qrFetch
			return &UINMismatch{Expected: f.uin, Actual: s.Uin}, nil
		}
		return f.confirm(ctx, s)
	}
	return nil, fmt.Errorf("%w: unexpected qrcode state %T", ErrLoginFailed, s)
}

func (f *QRCodeFlow) confirm(ctx context.Context, c *engine.QRCodeConfirmed) (Prompt, error) {
	resp, err := f.auth.QRCodeLogin(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("qrcode login of %d: %w", f.uin, err)
	}
	if _, ok := resp.(*engine.LoginDeviceLockLogin); ok {
		if resp, err = f.auth.DeviceLockLogin(ctx); err != nil {
			return nil, fmt.Errorf("device lock login of %d: %w", f.uin, err)
		}
	}
	switch r := resp.(type) {
	case *engine.LoginSuccess:
		f.state = qrDone
		return &Success{AccountInfo: r.AccountInfo}, nil
	case *engine.LoginUnknownStatus:
		return nil, &UnknownStatusError{Status: r.Status, Message: r.Message}
	}
	return nil, fmt.Errorf("%w: %T after qrcode confirmation", ErrLoginFailed, resp)
}
