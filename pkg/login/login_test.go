package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/engine/enginetest"
	"github.com/pmkol/ichika-x/pkg/entity"
)

var okResp = &engine.LoginSuccess{AccountInfo: entity.AccountInfo{Uin: 10001, Nickname: "ichika"}}

func TestPasswordFlow_Success(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(okResp)
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false)

	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	s, ok := p.(*Success)
	require.True(t, ok)
	assert.Equal(t, "ichika", s.AccountInfo.Nickname)

	_, err = f.Step(context.Background(), "")
	assert.ErrorIs(t, err, ErrFlowFinished)
}

func TestPasswordFlow_MD5(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(okResp)
	sum := [16]byte{1, 2, 3}
	f := NewPasswordFlow(e, 10001, Credential{PasswordMD5: &sum}, false)

	_, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Calls("PasswordMD5Login"))
	assert.Equal(t, 0, e.Calls("PasswordLogin"))
}

func TestPasswordFlow_SMS(t *testing.T) {
	e := enginetest.New(10001)
	locked := &engine.LoginDeviceLocked{SMSPhone: "138****0000", VerifyURL: "https://verify"}
	e.PushLogin(locked, locked, okResp)
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, true)

	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	sms, ok := p.(*RequestSMS)
	require.True(t, ok)
	assert.Equal(t, "138****0000", sms.Phone)
	assert.Equal(t, defaultDeviceLockMessage, sms.Message)
	assert.Equal(t, 1, e.Calls("RequestSMS"))

	p, err = f.Step(context.Background(), "123456")
	require.NoError(t, err)
	assert.IsType(t, &Success{}, p)
	assert.Equal(t, 1, e.Calls("SubmitSMSCode"))
}

func TestPasswordFlow_SMSEmptyAnswerFallsBackToManual(t *testing.T) {
	e := enginetest.New(10001)
	locked := &engine.LoginDeviceLocked{Message: "locked", SMSPhone: "138", VerifyURL: "https://verify"}
	e.PushLogin(locked, locked, okResp)
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, true)

	_, err := f.Step(context.Background(), "")
	require.NoError(t, err)

	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	dl, ok := p.(*DeviceLocked)
	require.True(t, ok)
	assert.Equal(t, "https://verify", dl.VerifyURL)
	assert.Equal(t, "locked", dl.Message)

	p, err = f.Step(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &Success{}, p)
	assert.Equal(t, 2, e.Calls("PasswordLogin"))
	assert.Equal(t, 0, e.Calls("SubmitSMSCode"))
}

func TestPasswordFlow_SMSRequestSkipsPrompt(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginDeviceLocked{SMSPhone: "138", VerifyURL: "https://verify"}, okResp)
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, true)

	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &Success{}, p)
}

func TestPasswordFlow_DeviceLockWithoutSMS(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginDeviceLocked{SMSPhone: "138", VerifyURL: "https://verify"})
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false)

	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &DeviceLocked{}, p)
	assert.Equal(t, 0, e.Calls("RequestSMS"))
}

func TestPasswordFlow_MissingVerifyURL(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginNeedCaptcha{})
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false)

	_, err := f.Step(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoVerifyURL)
	_, err = f.Step(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoVerifyURL)
}

func TestPasswordFlow_Captcha(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginNeedCaptcha{VerifyURL: "https://captcha"}, &engine.LoginDeviceLockLogin{}, okResp)
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false)

	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	nc, ok := p.(*NeedCaptcha)
	require.True(t, ok)
	assert.Equal(t, "https://captcha", nc.VerifyURL)

	p, err = f.Step(context.Background(), "ticket")
	require.NoError(t, err)
	assert.IsType(t, &Success{}, p)
	assert.Equal(t, 1, e.Calls("SubmitTicket"))
	assert.Equal(t, 1, e.Calls("DeviceLockLogin"))
}

func TestPasswordFlow_Terminal(t *testing.T) {
	tests := []struct {
		name string
		resp engine.LoginResponse
		want error
	}{
		{"frozen", &engine.LoginAccountFrozen{}, ErrAccountFrozen},
		{"too many sms", &engine.LoginTooManySMSRequest{}, ErrTooManySMSRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := enginetest.New(10001)
			e.PushLogin(tt.resp)
			_, err := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false).Step(context.Background(), "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginUnknownStatus{Status: 7, Message: "bad"})
	_, err := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false).Step(context.Background(), "")
	var use *UnknownStatusError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, int32(7), use.Status)
}

func TestPasswordFlow_TransportErrorIsRetryable(t *testing.T) {
	e := enginetest.New(10001)
	f := NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false)

	_, err := f.Step(context.Background(), "")
	require.ErrorIs(t, err, enginetest.ErrNoScript)

	e.PushLogin(okResp)
	p, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &Success{}, p)
}

func TestQRCodeFlow(t *testing.T) {
	e := enginetest.New(10001)
	e.PushQRCode(
		&engine.QRCodeImageFetch{Sig: []byte("sig"), Image: []byte("png")},
		&engine.QRCodeWaitingForScan{},
		&engine.QRCodeTimeout{},
		&engine.QRCodeImageFetch{Sig: []byte("sig2"), Image: []byte("png2")},
		&engine.QRCodeWaitingForConfirm{},
		&engine.QRCodeConfirmed{Uin: 10002},
		&engine.QRCodeImageFetch{Sig: []byte("sig3"), Image: []byte("png3")},
		&engine.QRCodeConfirmed{Uin: 10001},
	)
	e.PushLogin(&engine.LoginDeviceLockLogin{}, okResp)
	f := NewQRCodeFlow(e, 10001)
	ctx := context.Background()

	var got []Prompt
	for {
		p, err := f.Step(ctx, "")
		require.NoError(t, err)
		got = append(got, p)
		if _, ok := p.(*Success); ok {
			break
		}
	}

	require.Len(t, got, 8)
	assert.Equal(t, []byte("png"), got[0].(*DisplayQRCode).Image)
	assert.IsType(t, &WaitingForScan{}, got[1])
	assert.Equal(t, "timeout", got[2].(*QRCodeExpired).Reason)
	assert.IsType(t, &DisplayQRCode{}, got[3])
	assert.IsType(t, &WaitingForConfirm{}, got[4])
	assert.Equal(t, &UINMismatch{Expected: 10001, Actual: 10002}, got[5])
	assert.IsType(t, &DisplayQRCode{}, got[6])
	assert.IsType(t, &Success{}, got[7])

	assert.Equal(t, 3, e.Calls("FetchQRCode"))
	assert.Equal(t, 5, e.Calls("QueryQRCodeResult"))
	assert.Equal(t, 1, e.Calls("DeviceLockLogin"))
}

func TestQRCodeFlow_ConfirmedButRejected(t *testing.T) {
	e := enginetest.New(10001)
	e.PushQRCode(&engine.QRCodeImageFetch{Sig: []byte("sig")}, &engine.QRCodeConfirmed{Uin: 10001})
	e.PushLogin(&engine.LoginAccountFrozen{})
	f := NewQRCodeFlow(e, 10001)

	_, err := f.Step(context.Background(), "")
	require.NoError(t, err)
	_, err = f.Step(context.Background(), "")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

type recordingResolver struct {
	mu      sync.Mutex
	prompts []Prompt
	answers map[string]string
}

func (r *recordingResolver) Resolve(_ context.Context, p Prompt) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, p)
	switch p.(type) {
	case *RequestSMS:
		return r.answers["sms"], nil
	case *NeedCaptcha:
		return r.answers["ticket"], nil
	}
	return "", nil
}

func TestDrive_Password(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginNeedCaptcha{VerifyURL: "https://captcha"}, okResp)
	r := &recordingResolver{answers: map[string]string{"ticket": "t"}}

	s, err := Drive(context.Background(), NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false), r, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(10001), s.AccountInfo.Uin)
	require.Len(t, r.prompts, 2)
	assert.IsType(t, &NeedCaptcha{}, r.prompts[0])
	assert.IsType(t, &Success{}, r.prompts[1])
}

func TestDrive_QRCodePacing(t *testing.T) {
	e := enginetest.New(10001)
	e.PushQRCode(
		&engine.QRCodeImageFetch{Sig: []byte("sig")},
		&engine.QRCodeWaitingForScan{},
		&engine.QRCodeConfirmed{Uin: 10001},
	)
	e.PushLogin(okResp)
	r := &recordingResolver{}

	start := time.Now()
	_, err := Drive(context.Background(), NewQRCodeFlow(e, 10001), r, 20*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Len(t, r.prompts, 3)
}

func TestDrive_ResolverError(t *testing.T) {
	e := enginetest.New(10001)
	e.PushLogin(&engine.LoginNeedCaptcha{VerifyURL: "https://captcha"})
	errBoom := errors.New("boom")
	r := ResolverFunc(func(context.Context, Prompt) (string, error) { return "", errBoom })

	_, err := Drive(context.Background(), NewPasswordFlow(e, 10001, Credential{Password: "pw"}, false), r, time.Millisecond)
	assert.ErrorIs(t, err, errBoom)
}

func TestDrive_ContextCanceled(t *testing.T) {
	e := enginetest.New(10001)
	e.PushQRCode(&engine.QRCodeImageFetch{Sig: []byte("sig")})
	ctx, cancel := context.WithCancel(context.Background())
	r := ResolverFunc(func(context.Context, Prompt) (string, error) {
		cancel()
		return "", nil
	})

	_, err := Drive(ctx, NewQRCodeFlow(e, 10001), r, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

type memTokens map[int64][]byte

func (m memTokens) GetToken(_ context.Context, uin int64, _ string) ([]byte, error) {
	return m[uin], nil
}

func (m memTokens) WriteToken(_ context.Context, uin int64, _ string, token []byte) error {
	m[uin] = token
	return nil
}

func TestTryToken(t *testing.T) {
	e := enginetest.New(10001)
	store := memTokens{}
	ctx := context.Background()

	ok, err := TryToken(ctx, e, store, 10001, "ipad", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, e.Calls("TokenLogin"))

	require.NoError(t, SaveToken(ctx, e, store, 10001, "ipad"))
	ok, err = TryToken(ctx, e, store, 10001, "ipad", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	store[10001] = []byte("stale")
	ok, err = TryToken(ctx, e, store, 10001, "ipad", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	errNet := errors.New("network down")
	e.OnTokenLogin(func([]byte) (engine.LoginResponse, error) { return nil, errNet })
	ok, err = TryToken(ctx, e, store, 10001, "ipad", nil)
	assert.ErrorIs(t, err, errNet)
	assert.False(t, ok)
}
