// Package event defines the enriched events handed to subscribers and the
// Converter producing them from raw engine events.
package event

import (
	"encoding/json"
	"time"

	"github.com/pmkol/ichika-x/pkg/entity"
	"github.com/pmkol/ichika-x/pkg/message"
)

// Event is a converted event. Implementations are immutable once built and
// the set of them is closed; TypeName is a stable external tag.
type Event interface {
	TypeName() string
	event()
}

// MessageSource identifies a received message. Seq and Rand are the first
// entries of Seqs and Rands.
type MessageSource struct {
	Seq   int32     `json:"seq"`
	Rand  int32     `json:"rand"`
	Seqs  []int32   `json:"seqs"`
	Rands []int32   `json:"rands"`
	Time  time.Time `json:"time"`
}

func newSource(seqs, rands []int32, t int64) MessageSource {
	s := MessageSource{Seqs: seqs, Rands: rands, Time: time.Unix(t, 0)}
	if len(seqs) > 0 {
		s.Seq = seqs[0]
	}
	if len(rands) > 0 {
		s.Rand = rands[0]
	}
	return s
}

type LoginEvent struct {
	Uin int64 `json:"uin"`
}

type GroupMessage struct {
	Source  MessageSource  `json:"source"`
	Content message.Chain  `json:"content"`
	Group   *entity.Group  `json:"group"`
	Sender  *entity.Member `json:"sender"`
}

type GroupAudioMessage struct {
	Source MessageSource  `json:"source"`
	Audio  message.Audio  `json:"audio"`
	Group  *entity.Group  `json:"group"`
	Sender *entity.Member `json:"sender"`
}

type FriendMessage struct {
	Source  MessageSource `json:"source"`
	Content message.Chain `json:"content"`
	Sender  entity.Friend `json:"sender"`
}

type FriendAudioMessage struct {
	Source MessageSource `json:"source"`
	Audio  message.Audio `json:"audio"`
	Sender entity.Friend `json:"sender"`
}

type TempMessage struct {
	Source  MessageSource  `json:"source"`
	Content message.Chain  `json:"content"`
	Group   *entity.Group  `json:"group"`
	Sender  *entity.Member `json:"sender"`
}

type GroupRecallMessage struct {
	Time     time.Time      `json:"time"`
	Group    *entity.Group  `json:"group"`
	Author   *entity.Member `json:"author"`
	Operator *entity.Member `json:"operator"`
	Seq      int32          `json:"seq"`
}

type FriendRecallMessage struct {
	Time   time.Time     `json:"time"`
	Author entity.Friend `json:"author"`
	Seq    int32         `json:"seq"`
}

type GroupNudge struct {
	Group    *entity.Group  `json:"group"`
	Sender   *entity.Member `json:"sender"`
	Receiver *entity.Member `json:"receiver"`
}

type FriendNudge struct {
	Sender entity.Friend `json:"sender"`
}

type NewFriend struct {
	Friend entity.Friend `json:"friend"`
}

type FriendDeleted struct {
	FriendUin int64 `json:"friend_uin"`
}

type NewMember struct {
	Group  *entity.Group  `json:"group"`
	Member *entity.Member `json:"member"`
}

// MemberLeaveGroup has a nil Group when the account itself left, and a nil
// Operator when the member left on its own.
type MemberLeaveGroup struct {
	GroupCode int64          `json:"group_code"`
	Group     *entity.Group  `json:"group"`
	MemberUin int64          `json:"member_uin"`
	Operator  *entity.Member `json:"operator"`
}

type GroupDisband struct {
	GroupCode   int64 `json:"group_code"`
	OperatorUin int64 `json:"operator_uin"`
}

// GroupMute is a whole group mute toggle.
type GroupMute struct {
	Group    *entity.Group  `json:"group"`
	Operator *entity.Member `json:"operator"`
	Status   bool           `json:"status"`
}

// MemberMute has a zero Duration when the mute is lifted.
type MemberMute struct {
	Group    *entity.Group  `json:"group"`
	Operator *entity.Member `json:"operator"`
	Target   *entity.Member `json:"target"`
	Duration time.Duration  `json:"duration"`
}

type MemberPermissionChange struct {
	Group      *entity.Group     `json:"group"`
	Target     *entity.Member    `json:"target"`
	Permission entity.Permission `json:"permission"`
}

type GroupInfoUpdate struct {
	Group    *entity.Group  `json:"group"`
	Operator *entity.Member `json:"operator"`
	NewName  string         `json:"new_name"`
}

type NewFriendRequest struct {
	Seq      int64  `json:"seq"`
	Uin      int64  `json:"uin"`
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

// JoinGroupRequest has a zero InvitorUin for a self application.
type JoinGroupRequest struct {
	Seq         int64  `json:"seq"`
	Uin         int64  `json:"uin"`
	Nickname    string `json:"nickname"`
	GroupCode   int64  `json:"group_code"`
	GroupName   string `json:"group_name"`
	Message     string `json:"message"`
	Suspicious  bool   `json:"suspicious"`
	InvitorUin  int64  `json:"invitor_uin"`
	InvitorNick string `json:"invitor_nickname"`
}

type JoinGroupInvitation struct {
	Seq         int64  `json:"seq"`
	GroupCode   int64  `json:"group_code"`
	GroupName   string `json:"group_name"`
	InvitorUin  int64  `json:"invitor_uin"`
	InvitorNick string `json:"invitor_nickname"`
}

type KickedOffline struct {
	Title string `json:"title"`
	Tips  string `json:"tips"`
}

type MSFOffline struct {
	Message string `json:"message"`
}

// UnknownEvent carries the debug representation of a raw event this
// package does not understand.
type UnknownEvent struct {
	InternalRepr string `json:"internal_repr"`
}

func (*LoginEvent) TypeName() string             { return "LoginEvent" }
func (*GroupMessage) TypeName() string           { return "GroupMessage" }
func (*GroupAudioMessage) TypeName() string      { return "GroupAudioMessage" }
func (*FriendMessage) TypeName() string          { return "FriendMessage" }
func (*FriendAudioMessage) TypeName() string     { return "FriendAudioMessage" }
func (*TempMessage) TypeName() string            { return "TempMessage" }
func (*GroupRecallMessage) TypeName() string     { return "GroupRecallMessage" }
func (*FriendRecallMessage) TypeName() string    { return "FriendRecallMessage" }
func (*GroupNudge) TypeName() string             { return "GroupNudge" }
func (*FriendNudge) TypeName() string            { return "FriendNudge" }
func (*NewFriend) TypeName() string              { return "NewFriend" }
func (*FriendDeleted) TypeName() string          { return "FriendDeleted" }
func (*NewMember) TypeName() string              { return "NewMember" }
func (*MemberLeaveGroup) TypeName() string       { return "MemberLeaveGroup" }
func (*GroupDisband) TypeName() string           { return "GroupDisband" }
func (*GroupMute) TypeName() string              { return "GroupMute" }
func (*MemberMute) TypeName() string             { return "MemberMute" }
func (*MemberPermissionChange) TypeName() string { return "MemberPermissionChange" }
func (*GroupInfoUpdate) TypeName() string        { return "GroupInfoUpdate" }
func (*NewFriendRequest) TypeName() string       { return "NewFriendRequest" }
func (*JoinGroupRequest) TypeName() string       { return "JoinGroupRequest" }
func (*JoinGroupInvitation) TypeName() string    { return "JoinGroupInvitation" }
func (*KickedOffline) TypeName() string          { return "KickedOffline" }
func (*MSFOffline) TypeName() string             { return "MSFOffline" }
func (*UnknownEvent) TypeName() string           { return "UnknownEvent" }

func (*LoginEvent) event()             {}
func (*GroupMessage) event()           {}
func (*GroupAudioMessage) event()      {}
func (*FriendMessage) event()          {}
func (*FriendAudioMessage) event()     {}
func (*TempMessage) event()            {}
func (*GroupRecallMessage) event()     {}
func (*FriendRecallMessage) event()    {}
func (*GroupNudge) event()             {}
func (*FriendNudge) event()            {}
func (*NewFriend) event()              {}
func (*FriendDeleted) event()          {}
func (*NewMember) event()              {}
func (*MemberLeaveGroup) event()       {}
func (*GroupDisband) event()           {}
func (*GroupMute) event()              {}
func (*MemberMute) event()             {}
func (*MemberPermissionChange) event() {}
func (*GroupInfoUpdate) event()        {}
func (*NewFriendRequest) event()       {}
func (*JoinGroupRequest) event()       {}
func (*JoinGroupInvitation) event()    {}
func (*KickedOffline) event()          {}
func (*MSFOffline) event()             {}
func (*UnknownEvent) event()           {}

// Marshal encodes e as a JSON object with its tag under "type_name".
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(e.TypeName())
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(body)+len(tag)+16)
	b = append(b, `{"type_name":`...)
	b = append(b, tag...)
	if len(body) > 2 {
		b = append(b, ',')
		b = append(b, body[1:]...)
	} else {
		b = append(b, '}')
	}
	return b, nil
}
