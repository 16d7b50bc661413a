package event

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/entity"
	"github.com/pmkol/ichika-x/pkg/message"
)

// Cache is the entity cache the Converter reads through and invalidates.
// *client_cache.ClientCache implements it.
type Cache interface {
	FindFriend(ctx context.Context, uin int64) (entity.Friend, error)
	FlushFriendList()
	FetchGroup(ctx context.Context, code int64) (*entity.Group, error)
	FlushGroup(code int64)
	FetchMember(ctx context.Context, group, uin int64) (*entity.Member, error)
	FlushMember(group, uin int64)
}

// AudioResolver resolves the playback URL of a voice clip.
type AudioResolver interface {
	FriendAudioURL(ctx context.Context, sender int64, a *engine.Audio) (string, error)
	GroupAudioURL(ctx context.Context, groupCode int64, a *engine.Audio) (string, error)
}

var nopLogger = zap.NewNop()

// Converter turns raw engine events of one account into Events.
type Converter struct {
	uin    int64
	cache  Cache
	audio  AudioResolver
	logger *zap.Logger
}

func NewConverter(uin int64, cache Cache, audio AudioResolver, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = nopLogger
	}
	return &Converter{uin: uin, cache: cache, audio: audio, logger: logger}
}

// Convert builds the Event for raw. Cache invalidations implied by raw are
// applied before any lookup. A nil Event with a nil error means raw is
// filtered out.
func (c *Converter) Convert(ctx context.Context, raw engine.Event) (Event, error) {
	switch e := raw.(type) {
	case *engine.LoginEvent:
		return &LoginEvent{Uin: e.Uin}, nil
	case *engine.GroupMessage:
		return c.groupMessage(ctx, e)
	case *engine.GroupAudioMessage:
		return c.groupAudioMessage(ctx, e)
	case *engine.FriendMessage:
		return c.friendMessage(ctx, e)
	case *engine.FriendAudioMessage:
		return c.friendAudioMessage(ctx, e)
	case *engine.GroupTempMessage:
		return c.tempMessage(ctx, e)
	case *engine.GroupMessageRecall:
		return c.groupRecall(ctx, e)
	case *engine.FriendMessageRecall:
		return c.friendRecall(ctx, e)
	case *engine.GroupPoke:
		return c.groupPoke(ctx, e)
	case *engine.FriendPoke:
		return c.friendPoke(ctx, e)
	case *engine.NewFriend:
		c.cache.FlushFriendList()
		return &NewFriend{Friend: e.Friend}, nil
	case *engine.DeleteFriend:
		c.cache.FlushFriendList()
		return &FriendDeleted{FriendUin: e.Uin}, nil
	case *engine.NewMember:
		return c.newMember(ctx, e)
	case *engine.GroupLeave:
		return c.groupLeave(ctx, e)
	case *engine.GroupDisband:
		c.cache.FlushGroup(e.GroupCode)
		return &GroupDisband{GroupCode: e.GroupCode, OperatorUin: e.OperatorUin}, nil
	case *engine.GroupMute:
		return c.groupMute(ctx, e)
	case *engine.MemberPermissionChange:
		return c.permissionChange(ctx, e)
	case *engine.GroupNameUpdate:
		return c.groupNameUpdate(ctx, e)
	case *engine.NewFriendRequest:
		return &NewFriendRequest{Seq: e.MsgSeq, Uin: e.ReqUin, Nickname: e.Nickname, Message: e.Message}, nil
	case *engine.JoinGroupRequest:
		return &JoinGroupRequest{
			Seq:         e.MsgSeq,
			Uin:         e.ReqUin,
			Nickname:    e.ReqNick,
			GroupCode:   e.GroupCode,
			GroupName:   e.GroupName,
			Message:     e.Message,
			Suspicious:  e.Suspicious,
			InvitorUin:  e.InvitorUin,
			InvitorNick: e.InvitorNick,
		}, nil
	case *engine.SelfInvited:
		return &JoinGroupInvitation{
			Seq:         e.MsgSeq,
			GroupCode:   e.GroupCode,
			GroupName:   e.GroupName,
			InvitorUin:  e.InvitorUin,
			InvitorNick: e.InvitorNick,
		}, nil
	case *engine.KickedOffline:
		return &KickedOffline{Title: e.Title, Tips: e.Tips}, nil
	case *engine.MSFOffline:
		return &MSFOffline{Message: e.Message}, nil
	default:
		return &UnknownEvent{InternalRepr: fmt.Sprintf("%+v", raw)}, nil
	}
}

// groupAndMember resolves a group and one of its members.
func (c *Converter) groupAndMember(ctx context.Context, code, uin int64) (*entity.Group, *entity.Member, error) {
	g, err := c.cache.FetchGroup(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	m, err := c.cache.FetchMember(ctx, code, uin)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

// optionalMember resolves uin in code, or returns nil for a zero uin.
func (c *Converter) optionalMember(ctx context.Context, code, uin int64) (*entity.Member, error) {
	if uin == 0 {
		return nil, nil
	}
	return c.cache.FetchMember(ctx, code, uin)
}

func (c *Converter) groupMessage(ctx context.Context, e *engine.GroupMessage) (Event, error) {
	g, m, err := c.groupAndMember(ctx, e.GroupCode, e.FromUin)
	if err != nil {
		return nil, err
	}
	return &GroupMessage{
		Source:  newSource(e.Seqs, e.Rands, int64(e.Time)),
		Content: message.FromRaw(e.Elements),
		Group:   g,
		Sender:  m,
	}, nil
}

func (c *Converter) groupAudioMessage(ctx context.Context, e *engine.GroupAudioMessage) (Event, error) {
	g, m, err := c.groupAndMember(ctx, e.GroupCode, e.FromUin)
	if err != nil {
		return nil, err
	}
	url, err := c.audio.GroupAudioURL(ctx, e.GroupCode, &e.Audio)
	if err != nil {
		return nil, fmt.Errorf("resolve audio url: %w", err)
	}
	return &GroupAudioMessage{
		Source: newSource(e.Seqs, e.Rands, int64(e.Time)),
		Audio:  message.FromAudio(&e.Audio, url),
		Group:  g,
		Sender: m,
	}, nil
}

func (c *Converter) friendMessage(ctx context.Context, e *engine.FriendMessage) (Event, error) {
	f, err := c.cache.FindFriend(ctx, e.FromUin)
	if err != nil {
		return nil, err
	}
	return &FriendMessage{
		Source:  newSource(e.Seqs, e.Rands, int64(e.Time)),
		Content: message.FromRaw(e.Elements),
		Sender:  f,
	}, nil
}

func (c *Converter) friendAudioMessage(ctx context.Context, e *engine.FriendAudioMessage) (Event, error) {
	f, err := c.cache.FindFriend(ctx, e.FromUin)
	if err != nil {
		return nil, err
	}
	url, err := c.audio.FriendAudioURL(ctx, e.FromUin, &e.Audio)
	if err != nil {
		return nil, fmt.Errorf("resolve audio url: %w", err)
	}
	return &FriendAudioMessage{
		Source: newSource(e.Seqs, e.Rands, int64(e.Time)),
		Audio:  message.FromAudio(&e.Audio, url),
		Sender: f,
	}, nil
}

func (c *Converter) tempMessage(ctx context.Context, e *engine.GroupTempMessage) (Event, error) {
	g, m, err := c.groupAndMember(ctx, e.GroupCode, e.FromUin)
	if err != nil {
		return nil, err
	}
	return &TempMessage{
		Source:  newSource(e.Seqs, e.Rands, int64(e.Time)),
		Content: message.FromRaw(e.Elements),
		Group:   g,
		Sender:  m,
	}, nil
}

func (c *Converter) groupRecall(ctx context.Context, e *engine.GroupMessageRecall) (Event, error) {
	g, author, err := c.groupAndMember(ctx, e.GroupCode, e.AuthorUin)
	if err != nil {
		return nil, err
	}
	op, err := c.cache.FetchMember(ctx, e.GroupCode, e.OperatorUin)
	if err != nil {
		return nil, err
	}
	return &GroupRecallMessage{
		Time:     time.Unix(int64(e.Time), 0),
		Group:    g,
		Author:   author,
		Operator: op,
		Seq:      e.MsgSeq,
	}, nil
}

func (c *Converter) friendRecall(ctx context.Context, e *engine.FriendMessageRecall) (Event, error) {
	f, err := c.cache.FindFriend(ctx, e.FriendUin)
	if err != nil {
		return nil, err
	}
	return &FriendRecallMessage{Time: time.Unix(e.Time, 0), Author: f, Seq: e.MsgSeq}, nil
}

func (c *Converter) groupPoke(ctx context.Context, e *engine.GroupPoke) (Event, error) {
	if e.Sender == c.uin {
		return nil, nil
	}
	g, sender, err := c.groupAndMember(ctx, e.GroupCode, e.Sender)
	if err != nil {
		return nil, err
	}
	receiver, err := c.cache.FetchMember(ctx, e.GroupCode, e.Receiver)
	if err != nil {
		return nil, err
	}
	return &GroupNudge{Group: g, Sender: sender, Receiver: receiver}, nil
}

func (c *Converter) friendPoke(ctx context.Context, e *engine.FriendPoke) (Event, error) {
	if e.Sender == c.uin {
		return nil, nil
	}
	f, err := c.cache.FindFriend(ctx, e.Sender)
	if err != nil {
		return nil, err
	}
	return &FriendNudge{Sender: f}, nil
}

func (c *Converter) newMember(ctx context.Context, e *engine.NewMember) (Event, error) {
	c.cache.FlushGroup(e.GroupCode)
	c.cache.FlushMember(e.GroupCode, e.MemberUin)
	g, m, err := c.groupAndMember(ctx, e.GroupCode, e.MemberUin)
	if err != nil {
		return nil, err
	}
	return &NewMember{Group: g, Member: m}, nil
}

func (c *Converter) groupLeave(ctx context.Context, e *engine.GroupLeave) (Event, error) {
	c.cache.FlushMember(e.GroupCode, e.MemberUin)
	c.cache.FlushGroup(e.GroupCode)
	ev := &MemberLeaveGroup{GroupCode: e.GroupCode, MemberUin: e.MemberUin}
	if e.MemberUin == c.uin {
		// The group is gone for this account, nothing left to resolve.
		return ev, nil
	}
	g, err := c.cache.FetchGroup(ctx, e.GroupCode)
	if err != nil {
		return nil, err
	}
	ev.Group = g
	if ev.Operator, err = c.optionalMember(ctx, e.GroupCode, e.OperatorUin); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *Converter) groupMute(ctx context.Context, e *engine.GroupMute) (Event, error) {
	if e.TargetUin == 0 {
		c.cache.FlushGroup(e.GroupCode)
	} else {
		c.cache.FlushMember(e.GroupCode, e.TargetUin)
	}

	g, err := c.cache.FetchGroup(ctx, e.GroupCode)
	if err != nil {
		return nil, err
	}
	op, err := c.optionalMember(ctx, e.GroupCode, e.OperatorUin)
	if err != nil {
		return nil, err
	}
	if e.TargetUin == 0 {
		return &GroupMute{Group: g, Operator: op, Status: e.Duration != 0}, nil
	}
	target, err := c.cache.FetchMember(ctx, e.GroupCode, e.TargetUin)
	if err != nil {
		return nil, err
	}
	return &MemberMute{
		Group:    g,
		Operator: op,
		Target:   target,
		Duration: time.Duration(e.Duration) * time.Second,
	}, nil
}

func (c *Converter) permissionChange(ctx context.Context, e *engine.MemberPermissionChange) (Event, error) {
	c.cache.FlushMember(e.GroupCode, e.MemberUin)
	g, m, err := c.groupAndMember(ctx, e.GroupCode, e.MemberUin)
	if err != nil {
		return nil, err
	}
	return &MemberPermissionChange{Group: g, Target: m, Permission: e.NewPermission}, nil
}

func (c *Converter) groupNameUpdate(ctx context.Context, e *engine.GroupNameUpdate) (Event, error) {
	c.cache.FlushGroup(e.GroupCode)
	g, err := c.cache.FetchGroup(ctx, e.GroupCode)
	if err != nil {
		return nil, err
	}
	op, err := c.optionalMember(ctx, e.GroupCode, e.OperatorUin)
	if err != nil {
		return nil, err
	}
	return &GroupInfoUpdate{Group: g, Operator: op, NewName: e.NewName}, nil
}
