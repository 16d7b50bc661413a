package engine

import "github.com/pmkol/ichika-x/pkg/entity"

// LoginResponse is the outcome of one login step.
type LoginResponse interface {
	loginResponse()
}

type LoginSuccess struct {
	AccountInfo entity.AccountInfo
}

type LoginNeedCaptcha struct {
	VerifyURL string
}

type LoginDeviceLocked struct {
	Message   string
	SMSPhone  string
	VerifyURL string
}

type LoginDeviceLockLogin struct{}

type LoginAccountFrozen struct{}

type LoginTooManySMSRequest struct{}

type LoginUnknownStatus struct {
	Status  int32
	Message string
}

func (*LoginSuccess) loginResponse()           {}
func (*LoginNeedCaptcha) loginResponse()       {}
func (*LoginDeviceLocked) loginResponse()      {}
func (*LoginDeviceLockLogin) loginResponse()   {}
func (*LoginAccountFrozen) loginResponse()     {}
func (*LoginTooManySMSRequest) loginResponse() {}
func (*LoginUnknownStatus) loginResponse()     {}

// QRCodeState is the outcome of one QR code poll.
type QRCodeState interface {
	qrCodeState()
}

type QRCodeImageFetch struct {
	Sig   []byte
	Image []byte
}

type QRCodeWaitingForScan struct{}

type QRCodeWaitingForConfirm struct{}

type QRCodeTimeout struct{}

type QRCodeCanceled struct{}

type QRCodeConfirmed struct {
	Uin         int64
	TmpPwd      []byte
	TmpNoPicSig []byte
	TgtQR       []byte
}

func (*QRCodeImageFetch) qrCodeState()        {}
func (*QRCodeWaitingForScan) qrCodeState()    {}
func (*QRCodeWaitingForConfirm) qrCodeState() {}
func (*QRCodeTimeout) qrCodeState()           {}
func (*QRCodeCanceled) qrCodeState()          {}
func (*QRCodeConfirmed) qrCodeState()         {}
