package login

import (
	"context"
	"fmt"

	"github.com/pmkol/ichika-x/pkg/engine"
)

const defaultDeviceLockMessage = "please unlock the device lock to continue"

// Credential is a plain password or its md5 digest.
type Credential struct {
	Password    string
	PasswordMD5 *[16]byte
}

type passwordState uint8

const (
	pwStart passwordState = iota
	pwAwaitSMS
	pwAwaitDeviceLock
	pwAwaitCaptcha
	pwDone
	pwFailed
)

// PasswordFlow logs in with a password. Device lock, SMS and captcha
// challenges are surfaced as prompts; a device lock login step is handled
// without asking.
//
// A transport error from the engine is returned as is and leaves the flow
// where it was, so the same Step may be retried.
type PasswordFlow struct {
	auth   engine.Authenticator
	uin    int64
	cred   Credential
	useSMS bool

	state      passwordState
	deviceLock *DeviceLocked
	err        error
}

func NewPasswordFlow(auth engine.Authenticator, uin int64, cred Credential, useSMS bool) *PasswordFlow {
	return &PasswordFlow{auth: auth, uin: uin, cred: cred, useSMS: useSMS}
}

func (f *PasswordFlow) submitPassword(ctx context.Context) (engine.LoginResponse, error) {
	if f.cred.PasswordMD5 != nil {
		return f.auth.PasswordMD5Login(ctx, f.uin, *f.cred.PasswordMD5)
	}
	return f.auth.PasswordLogin(ctx, f.uin, f.cred.Password)
}

func (f *PasswordFlow) Step(ctx context.Context, answer string) (Prompt, error) {
	var (
		resp engine.LoginResponse
		err  error
	)
	switch f.state {
	case pwStart, pwAwaitDeviceLock:
		resp, err = f.submitPassword(ctx)
	case pwAwaitSMS:
		if len(answer) == 0 {
			f.state = pwAwaitDeviceLock
			return f.deviceLock, nil
		}
		resp, err = f.auth.SubmitSMSCode(ctx, answer)
	case pwAwaitCaptcha:
		resp, err = f.auth.SubmitTicket(ctx, answer)
	case pwDone:
		return nil, ErrFlowFinished
	case pwFailed:
		return nil, f.err
	}
	if err != nil {
		return nil, fmt.Errorf("password login of %d: %w", f.uin, err)
	}
	return f.handle(ctx, resp)
}

func (f *PasswordFlow) fail(err error) (Prompt, error) {
	f.state = pwFailed
	f.err = err
	return nil, err
}

func (f *PasswordFlow) handle(ctx context.Context, resp engine.LoginResponse) (Prompt, error) {
	for {
		switch r := resp.(type) {
		case *engine.LoginSuccess:
			f.state = pwDone
			return &Success{AccountInfo: r.AccountInfo}, nil

		case *engine.LoginDeviceLocked:
			if len(r.VerifyURL) == 0 {
				return f.fail(ErrNoVerifyURL)
			}
			msg := r.Message
			if len(msg) == 0 {
				msg = defaultDeviceLockMessage
			}
			f.deviceLock = &DeviceLocked{Message: msg, VerifyURL: r.VerifyURL}
			if f.useSMS && len(r.SMSPhone) > 0 {
				next, err := f.auth.RequestSMS(ctx)
				if err == nil {
					if _, locked := next.(*engine.LoginDeviceLocked); !locked {
						resp = next
						continue
					}
					f.state = pwAwaitSMS
					return &RequestSMS{Message: msg, Phone: r.SMSPhone}, nil
				}
			}
			f.state = pwAwaitDeviceLock
			return f.deviceLock, nil

		case *engine.LoginNeedCaptcha:
			if len(r.VerifyURL) == 0 {
				return f.fail(ErrNoVerifyURL)
			}
			f.state = pwAwaitCaptcha
			return &NeedCaptcha{VerifyURL: r.VerifyURL}, nil

		case *engine.LoginDeviceLockLogin:
			next, err := f.auth.DeviceLockLogin(ctx)
			if err != nil {
				return nil, fmt.Errorf("device lock login of %d: %w", f.uin, err)
			}
			resp = next

		case *engine.LoginAccountFrozen:
			return f.fail(ErrAccountFrozen)
		case *engine.LoginTooManySMSRequest:
			return f.fail(ErrTooManySMSRequest)
		case *engine.LoginUnknownStatus:
			return f.fail(&UnknownStatusError{Status: r.Status, Message: r.Message})
		default:
			return f.fail(fmt.Errorf("%w: unexpected response %T", ErrLoginFailed, resp))
		}
	}
}
