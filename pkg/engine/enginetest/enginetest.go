// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/entity"
)

// Name is a conventional registry name for the fake.
const Name = "fake"

var (
	ErrNoScript       = errors.New("no scripted login response left")
	ErrRecallRejected = errors.New("recall rejected by server")
)

type memberKey struct {
	group, uin int64
}

type sentMessage struct {
	kind   entity.ReceiptKind
	target int64
	seq    int32
	rand   int32
	time   int64
}

// Engine is a fake engine. Entity data, login responses and failures are
// scripted by the test; every call is counted by method name.
type Engine struct {
	uin int64

	mu      sync.Mutex
	handler engine.Handler
	calls   map[string]int

	friends *entity.FriendList
	groups  map[int64]*entity.Group
	members map[memberKey]*entity.Member

	fetchErr  error
	fetchGate chan struct{}

	addrs      []string
	loginQ     []engine.LoginResponse
	qrQ        []engine.QRCodeState
	tokenFn    func(token []byte) (engine.LoginResponse, error)
	token      []byte
	sent       []sentMessage
	nextSeq    int32
	nextFileID int64
	now        func() time.Time
	opErr      error
	status     engine.NetworkStatus
	loopDone   chan struct{}
	conn       net.Conn
	hb         bool
}

func New(uin int64) *Engine {
	return &Engine{
		uin:     uin,
		calls:   make(map[string]int),
		groups:  make(map[int64]*entity.Group),
		members: make(map[memberKey]*entity.Member),
		token:   []byte(fmt.Sprintf("token-%d", uin)),
		nextSeq: 42,
		now:     time.Now,
		addrs:   []string{"127.0.0.1:8080"},
	}
}

// RegisterFactory registers a factory under Name that always returns e,
// wiring the handler given in the options.
func RegisterFactory(name string, e *Engine) {
	engine.Register(name, func(opts engine.Options) (engine.Engine, error) {
		e.SetHandler(opts.Handler)
		return e, nil
	})
}

func (e *Engine) record(name string) {
	e.mu.Lock()
	e.calls[name]++
	e.mu.Unlock()
}

// Calls reports how many times the named method was invoked.
func (e *Engine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

func (e *Engine) SetHandler(h engine.Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Emit hands ev to the registered handler synchronously.
func (e *Engine) Emit(ctx context.Context, ev engine.Event) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h.Handle(ctx, ev)
	}
}

func (e *Engine) SetFriends(l *entity.FriendList) {
	e.mu.Lock()
	e.friends = l
	e.mu.Unlock()
}

func (e *Engine) SetGroup(g *entity.Group) {
	e.mu.Lock()
	e.groups[g.Code] = g
	e.mu.Unlock()
}

func (e *Engine) RemoveGroup(code int64) {
	e.mu.Lock()
	delete(e.groups, code)
	e.mu.Unlock()
}

func (e *Engine) SetMember(m *entity.Member) {
	e.mu.Lock()
	e.members[memberKey{m.GroupCode, m.Uin}] = m
	e.mu.Unlock()
}

func (e *Engine) RemoveMember(group, uin int64) {
	e.mu.Lock()
	delete(e.members, memberKey{group, uin})
	e.mu.Unlock()
}

// SetFetchError makes every entity fetch fail with err until it is reset
// with nil.
func (e *Engine) SetFetchError(err error) {
	e.mu.Lock()
	e.fetchErr = err
	e.mu.Unlock()
}

// HoldFetches blocks entity fetches until the returned func is called.
func (e *Engine) HoldFetches() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.fetchGate = gate
	e.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.fetchGate = nil
			e.mu.Unlock()
			close(gate)
		})
	}
}

// SetOpError makes every mutating operation fail with err.
func (e *Engine) SetOpError(err error) {
	e.mu.Lock()
	e.opErr = err
	e.mu.Unlock()
}

func (e *Engine) SetAddresses(addrs ...string) {
	e.mu.Lock()
	e.addrs = addrs
	e.mu.Unlock()
}

// PushLogin queues responses returned, in order, by the interactive login
// steps.
func (e *Engine) PushLogin(rs ...engine.LoginResponse) {
	e.mu.Lock()
	e.loginQ = append(e.loginQ, rs...)
	e.mu.Unlock()
}

// PushQRCode queues states returned, in order, by FetchQRCode and
// QueryQRCodeResult.
func (e *Engine) PushQRCode(ss ...engine.QRCodeState) {
	e.mu.Lock()
	e.qrQ = append(e.qrQ, ss...)
	e.mu.Unlock()
}

// OnTokenLogin overrides the token login result. By default a token equal
// to the one GenToken produced succeeds.
func (e *Engine) OnTokenLogin(f func(token []byte) (engine.LoginResponse, error)) {
	e.mu.Lock()
	e.tokenFn = f
	e.mu.Unlock()
}

// SetClock fixes the timestamps written into receipts.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func (e *Engine) wait(ctx context.Context) error {
	e.mu.Lock()
	gate, err := e.fetchGate, e.fetchErr
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
		err = e.fetchErr
		e.mu.Unlock()
	}
	return err
}

// Session

func (e *Engine) Uin() int64 { return e.uin }

func (e *Engine) Addresses(context.Context) ([]string, error) {
	e.record("Addresses")
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.addrs...), nil
}

func (e *Engine) Start(conn net.Conn) <-chan struct{} {
	e.record("Start")
	done := make(chan struct{})
	e.mu.Lock()
	e.status = engine.StatusRunning
	e.loopDone = done
	e.conn = conn
	e.mu.Unlock()
	return done
}

// Stop ends the receive loop with status, the way a dropped connection
// would.
func (e *Engine) Stop(status engine.NetworkStatus) {
	e.record("Stop")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	if e.loopDone != nil {
		close(e.loopDone)
		e.loopDone = nil
	}
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

func (e *Engine) Status() engine.NetworkStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) RegisterClient(context.Context) error {
	e.record("RegisterClient")
	return nil
}

func (e *Engine) HeartbeatEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hb
}

func (e *Engine) Heartbeat(ctx context.Context) {
	e.record("Heartbeat")
	e.mu.Lock()
	e.hb = true
	e.mu.Unlock()
}

func (e *Engine) RefreshStatus(context.Context) error {
	e.record("RefreshStatus")
	return nil
}

func (e *Engine) AccountInfo() entity.AccountInfo {
	return entity.AccountInfo{Uin: e.uin, Nickname: "fake"}
}

func (e *Engine) OtherClients(context.Context) ([]entity.OtherClientInfo, error) {
	e.record("OtherClients")
	return []entity.OtherClientInfo{{AppID: 1, DeviceName: "fake", DeviceKind: "PC"}}, nil
}

// Authenticator

func (e *Engine) nextLogin(name string) (engine.LoginResponse, error) {
	e.record(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.loginQ) == 0 {
		return nil, ErrNoScript
	}
	r := e.loginQ[0]
	e.loginQ = e.loginQ[1:]
	return r, nil
}

func (e *Engine) PasswordLogin(_ context.Context, _ int64, _ string) (engine.LoginResponse, error) {
	return e.nextLogin("PasswordLogin")
}

func (e *Engine) PasswordMD5Login(_ context.Context, _ int64, _ [16]byte) (engine.LoginResponse, error) {
	return e.nextLogin("PasswordMD5Login")
}

func (e *Engine) RequestSMS(context.Context) (engine.LoginResponse, error) {
	return e.nextLogin("RequestSMS")
}

func (e *Engine) SubmitSMSCode(_ context.Context, _ string) (engine.LoginResponse, error) {
	return e.nextLogin("SubmitSMSCode")
}

func (e *Engine) SubmitTicket(_ context.Context, _ string) (engine.LoginResponse, error) {
	return e.nextLogin("SubmitTicket")
}

func (e *Engine) DeviceLockLogin(context.Context) (engine.LoginResponse, error) {
	return e.nextLogin("DeviceLockLogin")
}

func (e *Engine) QRCodeLogin(_ context.Context, _ *engine.QRCodeConfirmed) (engine.LoginResponse, error) {
	return e.nextLogin("QRCodeLogin")
}

func (e *Engine) nextQRCode(name string) (engine.QRCodeState, error) {
	e.record(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.qrQ) == 0 {
		return nil, ErrNoScript
	}
	s := e.qrQ[0]
	e.qrQ = e.qrQ[1:]
	return s, nil
}

func (e *Engine) FetchQRCode(context.Context) (engine.QRCodeState, error) {
	return e.nextQRCode("FetchQRCode")
}

func (e *Engine) QueryQRCodeResult(_ context.Context, _ []byte) (engine.QRCodeState, error) {
	return e.nextQRCode("QueryQRCodeResult")
}

func (e *Engine) TokenLogin(_ context.Context, token []byte) (engine.LoginResponse, error) {
	e.record("TokenLogin")
	e.mu.Lock()
	f, want := e.tokenFn, string(e.token)
	e.mu.Unlock()
	if f != nil {
		return f(token)
	}
	if string(token) != want {
		return &engine.LoginUnknownStatus{Status: 1, Message: "token expired"}, nil
	}
	return &engine.LoginSuccess{AccountInfo: e.AccountInfo()}, nil
}

func (e *Engine) GenToken(context.Context) ([]byte, error) {
	e.record("GenToken")
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.token...), nil
}

// Fetcher

func (e *Engine) FetchFriendList(ctx context.Context) (*entity.FriendList, error) {
	e.record("FetchFriendList")
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.friends == nil {
		return &entity.FriendList{FriendGroups: map[uint8]entity.FriendGroup{}}, nil
	}
	l := *e.friends
	l.Friends = append([]entity.Friend(nil), e.friends.Friends...)
	return &l, nil
}

func (e *Engine) FetchGroupList(ctx context.Context) ([]*entity.Group, error) {
	e.record("FetchGroupList")
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	gs := make([]*entity.Group, 0, len(e.groups))
	for _, g := range e.groups {
		c := *g
		c.LastMsgSeq = 0
		gs = append(gs, &c)
	}
	return gs, nil
}

func (e *Engine) FetchGroup(ctx context.Context, code int64) (*entity.Group, error) {
	e.record("FetchGroup")
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[code]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (e *Engine) FetchMember(ctx context.Context, group, uin int64) (*entity.Member, error) {
	e.record("FetchMember")
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.members[memberKey{group, uin}]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

// Messenger

func (e *Engine) send(kind entity.ReceiptKind, target int64) *entity.MessageReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := sentMessage{kind: kind, target: target, seq: e.nextSeq, rand: e.nextSeq + 57, time: e.now().Unix()}
	e.nextSeq++
	e.sent = append(e.sent, m)
	return &entity.MessageReceipt{
		Seqs:   []int32{m.seq},
		Rands:  []int32{m.rand},
		Time:   m.time,
		Kind:   kind,
		Target: target,
	}
}

func (e *Engine) SendFriendMessage(_ context.Context, uin int64, elems []engine.Elem) (*entity.MessageReceipt, error) {
	e.record("SendFriendMessage")
	if len(elems) == 0 {
		return nil, errors.New("empty message")
	}
	return e.send(entity.ReceiptFriend, uin), nil
}

func (e *Engine) SendGroupMessage(_ context.Context, code int64, elems []engine.Elem) (*entity.MessageReceipt, error) {
	e.record("SendGroupMessage")
	if len(elems) == 0 {
		return nil, errors.New("empty message")
	}
	return e.send(entity.ReceiptGroup, code), nil
}

func (e *Engine) recall(kind entity.ReceiptKind, target, t int64, seq, rand int32, checkTime bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range e.sent {
		if m.kind == kind && m.target == target && m.seq == seq && m.rand == rand && (!checkTime || m.time == t) {
			e.sent = append(e.sent[:i], e.sent[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: seq %d rand %d", ErrRecallRejected, seq, rand)
}

func (e *Engine) RecallFriendMessage(_ context.Context, uin, t int64, seq, rand int32) error {
	e.record("RecallFriendMessage")
	return e.recall(entity.ReceiptFriend, uin, t, seq, rand, true)
}

func (e *Engine) RecallGroupMessage(_ context.Context, code int64, seq, rand int32) error {
	e.record("RecallGroupMessage")
	return e.recall(entity.ReceiptGroup, code, 0, seq, rand, false)
}

func (e *Engine) FriendAudioURL(_ context.Context, sender int64, a *engine.Audio) (string, error) {
	e.record("FriendAudioURL")
	return fmt.Sprintf("https://audio.example/friend/%d/%s", sender, a.FileName), nil
}

func (e *Engine) GroupAudioURL(_ context.Context, code int64, a *engine.Audio) (string, error) {
	e.record("GroupAudioURL")
	return fmt.Sprintf("https://audio.example/group/%d/%s", code, a.FileName), nil
}

// ErrEmptyImage is returned by the uploads for empty data.
var ErrEmptyImage = errors.New("empty image")

func (e *Engine) upload(name string, target engine.ImageTarget, to int64, data []byte) (*engine.ImageElem, error) {
	if err := e.op(name); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	sum := md5.Sum(data)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextFileID++
	return &engine.ImageElem{
		Target:   target,
		FileID:   e.nextFileID,
		FilePath: fmt.Sprintf("%x.image", sum),
		MD5:      sum[:],
		Size:     uint32(len(data)),
		URL:      fmt.Sprintf("https://img.example/%d/%x", to, sum),
	}, nil
}

func (e *Engine) UploadFriendImage(_ context.Context, uin int64, data []byte) (*engine.ImageElem, error) {
	return e.upload("UploadFriendImage", engine.ImageFriend, uin, data)
}

func (e *Engine) UploadGroupImage(_ context.Context, code int64, data []byte) (*engine.ImageElem, error) {
	return e.upload("UploadGroupImage", engine.ImageGroup, code, data)
}

// Manager

func (e *Engine) op(name string) error {
	e.record(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opErr
}

func (e *Engine) MuteMember(_ context.Context, group, uin int64, d time.Duration) error {
	if err := e.op("MuteMember"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.members[memberKey{group, uin}]; ok {
		c := *m
		c.ShutUpTimestamp = e.now().Add(d).Unix()
		e.members[memberKey{group, uin}] = &c
	}
	return nil
}

func (e *Engine) MuteGroup(_ context.Context, group int64, mute bool) error {
	if err := e.op("MuteGroup"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.groups[group]; ok {
		c := *g
		c.ShutUpTimestamp = 0
		if mute {
			c.ShutUpTimestamp = e.now().Unix()
		}
		e.groups[group] = &c
	}
	return nil
}

func (e *Engine) SetMemberCard(_ context.Context, group, uin int64, card string) error {
	if err := e.op("SetMemberCard"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.members[memberKey{group, uin}]; ok {
		c := *m
		c.RawCardName = card
		e.members[memberKey{group, uin}] = &c
	}
	return nil
}

func (e *Engine) SetMemberAdmin(_ context.Context, group, uin int64, admin bool) error {
	if err := e.op("SetMemberAdmin"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.members[memberKey{group, uin}]; ok {
		c := *m
		c.Permission = entity.PermissionMember
		if admin {
			c.Permission = entity.PermissionAdministrator
		}
		e.members[memberKey{group, uin}] = &c
	}
	return nil
}

func (e *Engine) KickMember(_ context.Context, group, uin int64, _ string, _ bool) error {
	if err := e.op("KickMember"); err != nil {
		return err
	}
	e.RemoveMember(group, uin)
	return nil
}

func (e *Engine) RenameGroup(_ context.Context, group int64, name string) error {
	if err := e.op("RenameGroup"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.groups[group]; ok {
		c := *g
		c.Name = name
		e.groups[group] = &c
	}
	return nil
}

func (e *Engine) QuitGroup(_ context.Context, group int64) error {
	if err := e.op("QuitGroup"); err != nil {
		return err
	}
	e.RemoveGroup(group)
	return nil
}

func (e *Engine) DeleteFriend(_ context.Context, uin int64) error {
	if err := e.op("DeleteFriend"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.friends == nil {
		return nil
	}
	l := *e.friends
	l.Friends = nil
	for _, f := range e.friends.Friends {
		if f.Uin != uin {
			l.Friends = append(l.Friends, f)
		}
	}
	e.friends = &l
	return nil
}

func (e *Engine) SendFriendPoke(_ context.Context, _ int64) error {
	return e.op("SendFriendPoke")
}

func (e *Engine) SendGroupPoke(_ context.Context, _, _ int64) error {
	return e.op("SendGroupPoke")
}

var _ engine.Engine = (*Engine)(nil)
