package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageReceipt_Pairs(t *testing.T) {
	r := &MessageReceipt{Seqs: []int32{1, 2}, Rands: []int32{10, 20}}
	p, err := r.Pairs()
	require.NoError(t, err)
	assert.Equal(t, []SeqRand{{1, 10}, {2, 20}}, p)

	_, err = (&MessageReceipt{Seqs: []int32{1, 2}, Rands: []int32{10}}).Pairs()
	assert.ErrorIs(t, err, ErrInvalidReceipt)

	_, err = (&MessageReceipt{}).Pairs()
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestFriendList_Find(t *testing.T) {
	l := &FriendList{
		Friends: []Friend{{Uin: 1, Nickname: "a"}, {Uin: 555, Nickname: "b"}},
		FriendGroups: map[uint8]FriendGroup{
			0: {GroupID: 0, Name: "My Friends"},
		},
	}
	f, ok := l.FindFriend(555)
	require.True(t, ok)
	assert.Equal(t, "b", f.Nickname)
	_, ok = l.FindFriend(2)
	assert.False(t, ok)

	g, ok := l.FindFriendGroup(0)
	require.True(t, ok)
	assert.Equal(t, "My Friends", g.Name)

	var nilList *FriendList
	_, ok = nilList.FindFriend(1)
	assert.False(t, ok)
}

func TestMember_CardName(t *testing.T) {
	m := &Member{Nickname: "nick"}
	assert.Equal(t, "nick", m.CardName())
	m.RawCardName = "card"
	assert.Equal(t, "card", m.CardName())
}

func TestDerivedFlags(t *testing.T) {
	g := &Group{}
	assert.False(t, g.MuteAll())
	g.ShutUpTimestamp = 1
	assert.True(t, g.MuteAll())

	now := time.Unix(1000, 0)
	m := &Member{ShutUpTimestamp: 1001}
	assert.True(t, m.Muted(now))
	assert.False(t, m.Muted(now.Add(time.Second)))
}
