package engine

import "github.com/pmkol/ichika-x/pkg/entity"

// Event is a raw event emitted by an engine. The types below are the ones
// the orchestration layer understands; an engine may emit anything else and
// it is surfaced as an unknown event.
type Event any

type LoginEvent struct {
	Uin int64
}

type GroupMessage struct {
	Seqs      []int32
	Rands     []int32
	GroupCode int64
	GroupName string
	GroupCard string
	FromUin   int64
	Time      int32
	Elements  []Elem
}

type GroupAudioMessage struct {
	Seqs      []int32
	Rands     []int32
	GroupCode int64
	GroupName string
	GroupCard string
	FromUin   int64
	Time      int32
	Audio     Audio
}

type FriendMessage struct {
	Seqs     []int32
	Rands    []int32
	Target   int64
	FromUin  int64
	FromNick string
	Time     int32
	Elements []Elem
}

type FriendAudioMessage struct {
	Seqs     []int32
	Rands    []int32
	Target   int64
	FromUin  int64
	FromNick string
	Time     int32
	Audio    Audio
}

type GroupTempMessage struct {
	Seqs      []int32
	Rands     []int32
	GroupCode int64
	FromUin   int64
	FromNick  string
	Time      int32
	Elements  []Elem
}

type GroupMessageRecall struct {
	GroupCode   int64
	OperatorUin int64
	AuthorUin   int64
	MsgSeq      int32
	Time        int32
}

type FriendMessageRecall struct {
	FriendUin int64
	MsgSeq    int32
	Time      int64
}

type GroupPoke struct {
	GroupCode int64
	Sender    int64
	Receiver  int64
}

type FriendPoke struct {
	Sender   int64
	Receiver int64
}

type NewFriend struct {
	Friend entity.Friend
}

type DeleteFriend struct {
	Uin int64
}

type NewMember struct {
	GroupCode int64
	MemberUin int64
}

// GroupLeave has a zero OperatorUin when the member left on its own.
type GroupLeave struct {
	GroupCode   int64
	MemberUin   int64
	OperatorUin int64
}

type GroupDisband struct {
	GroupCode   int64
	OperatorUin int64
}

// GroupMute with a zero TargetUin mutes or unmutes the whole group. A zero
// Duration lifts the mute.
type GroupMute struct {
	GroupCode   int64
	OperatorUin int64
	TargetUin   int64
	Duration    int32
}

type MemberPermissionChange struct {
	GroupCode     int64
	MemberUin     int64
	NewPermission entity.Permission
}

type GroupNameUpdate struct {
	GroupCode   int64
	NewName     string
	OperatorUin int64
}

type NewFriendRequest struct {
	MsgSeq   int64
	ReqUin   int64
	Nickname string
	Message  string
}

// JoinGroupRequest has a zero InvitorUin for a self application.
type JoinGroupRequest struct {
	MsgSeq      int64
	ReqUin      int64
	ReqNick     string
	GroupCode   int64
	GroupName   string
	Message     string
	Suspicious  bool
	InvitorUin  int64
	InvitorNick string
}

type SelfInvited struct {
	MsgSeq      int64
	InvitorUin  int64
	InvitorNick string
	GroupCode   int64
	GroupName   string
}

type KickedOffline struct {
	Title string
	Tips  string
}

type MSFOffline struct {
	Message string
}
