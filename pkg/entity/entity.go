// Package entity holds the immutable snapshots of accounts, friends, groups
// and members handed out by the cache layer. Snapshots are replaced
// wholesale on refresh and are never mutated after they are built.
package entity

import (
	"errors"
	"fmt"
	"time"
)

type Gender uint8

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
)

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "Male"
	case GenderFemale:
		return "Female"
	default:
		return "Unknown"
	}
}

func (g Gender) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

type Permission uint8

const (
	PermissionMember Permission = iota
	PermissionAdministrator
	PermissionOwner
)

func (p Permission) String() string {
	switch p {
	case PermissionOwner:
		return "Owner"
	case PermissionAdministrator:
		return "Administrator"
	default:
		return "Member"
	}
}

func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// AccountInfo describes the logged in account.
type AccountInfo struct {
	Uin      int64  `json:"uin"`
	Nickname string `json:"nickname"`
	Age      uint16 `json:"age"`
	Gender   Gender `json:"gender"`
}

// OtherClientInfo is another online session of the same account.
type OtherClientInfo struct {
	AppID      int64  `json:"app_id"`
	DeviceName string `json:"device_name"`
	DeviceKind string `json:"device_kind"`
}

type Friend struct {
	Uin      int64  `json:"uin"`
	Nickname string `json:"nick"`
	Remark   string `json:"remark"`
	FaceID   uint16 `json:"face_id"`
	GroupID  uint8  `json:"group_id"`
}

type FriendGroup struct {
	GroupID     uint8  `json:"group_id"`
	Name        string `json:"name"`
	FriendCount int32  `json:"friend_count"`
	OnlineCount int32  `json:"online_count"`
	SeqID       uint8  `json:"seq_id"`
}

// FriendList is the result of one full friend list fetch. Friends keeps the
// order of that fetch.
type FriendList struct {
	Friends      []Friend              `json:"friends"`
	FriendGroups map[uint8]FriendGroup `json:"friend_groups"`
	TotalCount   int32                 `json:"total_count"`
	OnlineCount  int32                 `json:"online_count"`
}

// FindFriend scans the list for uin.
func (l *FriendList) FindFriend(uin int64) (Friend, bool) {
	if l == nil {
		return Friend{}, false
	}
	for _, f := range l.Friends {
		if f.Uin == uin {
			return f, true
		}
	}
	return Friend{}, false
}

func (l *FriendList) FindFriendGroup(id uint8) (FriendGroup, bool) {
	if l == nil {
		return FriendGroup{}, false
	}
	g, ok := l.FriendGroups[id]
	return g, ok
}

// Group is a group snapshot. LastMsgSeq is only known when the group was
// fetched on its own, a list fetch leaves it zero.
type Group struct {
	Uin               int64  `json:"uin"`
	Code              int64  `json:"code"`
	Name              string `json:"name"`
	Memo              string `json:"memo"`
	OwnerUin          int64  `json:"owner_uin"`
	CreateTime        uint32 `json:"create_time"`
	Level             uint32 `json:"level"`
	MemberCount       uint16 `json:"member_count"`
	MaxMemberCount    uint16 `json:"max_member_count"`
	ShutUpTimestamp   int64  `json:"global_mute_timestamp"`
	MyShutUpTimestamp int64  `json:"mute_timestamp"`
	LastMsgSeq        int64  `json:"last_msg_seq"`
}

// MuteAll reports whether the whole group is muted.
func (g *Group) MuteAll() bool {
	return g.ShutUpTimestamp != 0
}

type Member struct {
	GroupCode              int64      `json:"group_uin"`
	Uin                    int64      `json:"uin"`
	Gender                 Gender     `json:"gender"`
	Nickname               string     `json:"nickname"`
	RawCardName            string     `json:"raw_card_name"`
	Level                  uint16     `json:"level"`
	JoinTime               int64      `json:"join_time"`
	LastSpeakTime          int64      `json:"last_speak_time"`
	SpecialTitle           string     `json:"special_title"`
	SpecialTitleExpireTime int64      `json:"special_title_expire_time"`
	ShutUpTimestamp        int64      `json:"mute_timestamp"`
	Permission             Permission `json:"permission"`
}

// CardName is the group card, or the nickname when no card is set.
func (m *Member) CardName() string {
	if m.RawCardName != "" {
		return m.RawCardName
	}
	return m.Nickname
}

// Muted reports whether the member is muted at now.
func (m *Member) Muted(now time.Time) bool {
	return m.ShutUpTimestamp > now.Unix()
}

type ReceiptKind uint8

const (
	ReceiptFriend ReceiptKind = iota
	ReceiptGroup
)

func (k ReceiptKind) String() string {
	if k == ReceiptGroup {
		return "group"
	}
	return "friend"
}

var ErrInvalidReceipt = errors.New("invalid message receipt")

// MessageReceipt identifies a sent message. Seqs and Rands are positionally
// paired.
type MessageReceipt struct {
	Seqs   []int32     `json:"seqs"`
	Rands  []int32     `json:"rands"`
	Time   int64       `json:"time"`
	Kind   ReceiptKind `json:"kind"`
	Target int64       `json:"target"`
}

// SeqRand is one (seq, rand) pair of a receipt.
type SeqRand struct {
	Seq  int32
	Rand int32
}

// Pairs zips Seqs and Rands. It fails when their lengths differ or are
// zero.
func (r *MessageReceipt) Pairs() ([]SeqRand, error) {
	if len(r.Seqs) != len(r.Rands) {
		return nil, fmt.Errorf("%w: %d seqs and %d rands", ErrInvalidReceipt, len(r.Seqs), len(r.Rands))
	}
	if len(r.Seqs) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidReceipt)
	}
	p := make([]SeqRand, len(r.Seqs))
	for i := range r.Seqs {
		p[i] = SeqRand{Seq: r.Seqs[i], Rand: r.Rands[i]}
	}
	return p, nil
}
