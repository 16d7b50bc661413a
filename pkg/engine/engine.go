// Package engine declares the contract between this module and a QQ protocol
// engine. The engine owns the wire protocol, framing and crypto; everything
// here is the orchestration layer's view of it.
//
// Concrete engines register themselves with Register and are selected by
// name at runtime.
package engine

import (
	"context"
	"net"
	"time"

	"github.com/pmkol/ichika-x/pkg/entity"
)

// Fetcher performs remote entity lookups. Lookups of a single group or
// member return (nil, nil) when the entity does not exist.
type Fetcher interface {
	FetchFriendList(ctx context.Context) (*entity.FriendList, error)
	// FetchGroupList returns every joined group. Groups from this call
	// carry no LastMsgSeq.
	FetchGroupList(ctx context.Context) ([]*entity.Group, error)
	FetchGroup(ctx context.Context, code int64) (*entity.Group, error)
	FetchMember(ctx context.Context, groupCode, uin int64) (*entity.Member, error)
}

// Authenticator drives the login handshakes. Every step returns the next
// LoginResponse; transport failures are reported as errors.
type Authenticator interface {
	PasswordLogin(ctx context.Context, uin int64, password string) (LoginResponse, error)
	PasswordMD5Login(ctx context.Context, uin int64, md5 [16]byte) (LoginResponse, error)
	RequestSMS(ctx context.Context) (LoginResponse, error)
	SubmitSMSCode(ctx context.Context, code string) (LoginResponse, error)
	SubmitTicket(ctx context.Context, ticket string) (LoginResponse, error)
	DeviceLockLogin(ctx context.Context) (LoginResponse, error)

	FetchQRCode(ctx context.Context) (QRCodeState, error)
	QueryQRCodeResult(ctx context.Context, sig []byte) (QRCodeState, error)
	QRCodeLogin(ctx context.Context, c *QRCodeConfirmed) (LoginResponse, error)

	TokenLogin(ctx context.Context, token []byte) (LoginResponse, error)
	// GenToken serializes the current session into an opaque token that
	// TokenLogin accepts later.
	GenToken(ctx context.Context) ([]byte, error)
}

// Session is the connection lifecycle of one account.
type Session interface {
	Uin() int64
	// Addresses lists candidate server addresses in host:port form.
	Addresses(ctx context.Context) ([]string, error)
	// Start runs the receive loop on conn in the background. The returned
	// channel is closed once the loop exits, after which Status reports why.
	Start(conn net.Conn) <-chan struct{}
	Stop(status NetworkStatus)
	Status() NetworkStatus

	RegisterClient(ctx context.Context) error
	HeartbeatEnabled() bool
	// Heartbeat blocks and keeps the session alive until the loop stops.
	Heartbeat(ctx context.Context)
	RefreshStatus(ctx context.Context) error

	AccountInfo() entity.AccountInfo
	OtherClients(ctx context.Context) ([]entity.OtherClientInfo, error)
}

type Messenger interface {
	SendFriendMessage(ctx context.Context, uin int64, elems []Elem) (*entity.MessageReceipt, error)
	SendGroupMessage(ctx context.Context, groupCode int64, elems []Elem) (*entity.MessageReceipt, error)
	// Recalls must reproduce the exact (seq, rand) pair of the sent message.
	RecallFriendMessage(ctx context.Context, uin, time int64, seq, rand int32) error
	RecallGroupMessage(ctx context.Context, groupCode int64, seq, rand int32) error

	FriendAudioURL(ctx context.Context, sender int64, a *Audio) (string, error)
	GroupAudioURL(ctx context.Context, groupCode int64, a *Audio) (string, error)

	// Uploads return a handle that can be sent to the given target only.
	UploadFriendImage(ctx context.Context, uin int64, data []byte) (*ImageElem, error)
	UploadGroupImage(ctx context.Context, groupCode int64, data []byte) (*ImageElem, error)
}

// Manager performs account and group management operations.
type Manager interface {
	MuteMember(ctx context.Context, groupCode, uin int64, d time.Duration) error
	MuteGroup(ctx context.Context, groupCode int64, mute bool) error
	SetMemberCard(ctx context.Context, groupCode, uin int64, card string) error
	SetMemberAdmin(ctx context.Context, groupCode, uin int64, admin bool) error
	KickMember(ctx context.Context, groupCode, uin int64, msg string, block bool) error
	RenameGroup(ctx context.Context, groupCode int64, name string) error
	QuitGroup(ctx context.Context, groupCode int64) error
	DeleteFriend(ctx context.Context, uin int64) error
	SendFriendPoke(ctx context.Context, uin int64) error
	SendGroupPoke(ctx context.Context, groupCode, uin int64) error
}

type Engine interface {
	Session
	Authenticator
	Fetcher
	Messenger
	Manager
}

// Handler receives raw events. The engine calls Handle sequentially for one
// connection, so events are observed in arrival order.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type NetworkStatus uint8

const (
	StatusUnknown NetworkStatus = iota
	StatusRunning
	// StatusStop is a user initiated stop.
	StatusStop
	StatusDrop
	// StatusNetworkOffline is the only status that triggers a reconnect.
	StatusNetworkOffline
	StatusKickedOffline
	StatusMSFOffline
)

func (s NetworkStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStop:
		return "stop"
	case StatusDrop:
		return "drop"
	case StatusNetworkOffline:
		return "network_offline"
	case StatusKickedOffline:
		return "kicked_offline"
	case StatusMSFOffline:
		return "msf_offline"
	default:
		return "unknown"
	}
}
