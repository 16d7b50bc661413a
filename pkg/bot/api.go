package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/pmkol/ichika-x/pkg/client_cache"
	"github.com/pmkol/ichika-x/pkg/entity"
	"github.com/pmkol/ichika-x/pkg/message"
)

func (c *Client) AccountInfo() entity.AccountInfo {
	return c.engine.AccountInfo()
}

func (c *Client) OtherClients(ctx context.Context) ([]entity.OtherClientInfo, error) {
	l, err := c.engine.OtherClients(ctx)
	return l, c.wrap("get other clients", err)
}

// Entity lookups

func (c *Client) GetFriendList(ctx context.Context) (*entity.FriendList, error) {
	return c.cache.FetchFriendList(ctx)
}

// GetFriendListRaw drops the cached friend list and fetches it again.
func (c *Client) GetFriendListRaw(ctx context.Context) (*entity.FriendList, error) {
	c.cache.FlushFriendList()
	return c.cache.FetchFriendList(ctx)
}

func (c *Client) GetFriend(ctx context.Context, uin int64) (entity.Friend, error) {
	return c.cache.FindFriend(ctx, uin)
}

func (c *Client) GetGroup(ctx context.Context, code int64) (*entity.Group, error) {
	return c.cache.FetchGroup(ctx, code)
}

func (c *Client) GetGroupRaw(ctx context.Context, code int64) (*entity.Group, error) {
	c.cache.FlushGroup(code)
	return c.cache.FetchGroup(ctx, code)
}

// GetGroups fetches the given groups from the server and refreshes the
// cache with them. Groups that do not exist are left out of the result.
func (c *Client) GetGroups(ctx context.Context, codes []int64) (map[int64]*entity.Group, error) {
	groups := make(map[int64]*entity.Group, len(codes))
	for _, code := range codes {
		g, err := c.engine.FetchGroup(ctx, code)
		if err != nil {
			return nil, c.wrap("get groups", err)
		}
		if g == nil {
			continue
		}
		c.cache.StoreGroup(g)
		groups[code] = g
	}
	return groups, nil
}

// GetGroupList lists every joined group. It bypasses the cache because the
// listed groups carry no LastMsgSeq.
func (c *Client) GetGroupList(ctx context.Context) ([]*entity.Group, error) {
	l, err := c.engine.FetchGroupList(ctx)
	return l, c.wrap("get group list", err)
}

func (c *Client) GetMember(ctx context.Context, group, uin int64) (*entity.Member, error) {
	return c.cache.FetchMember(ctx, group, uin)
}

func (c *Client) GetMemberRaw(ctx context.Context, group, uin int64) (*entity.Member, error) {
	c.cache.FlushMember(group, uin)
	return c.cache.FetchMember(ctx, group, uin)
}

// IsNotFound reports whether err is a lookup of a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, client_cache.ErrFriendNotFound) ||
		errors.Is(err, client_cache.ErrGroupNotFound) ||
		errors.Is(err, client_cache.ErrMemberNotFound)
}

// Messages

func (c *Client) SendFriendMessage(ctx context.Context, uin int64, chain message.Chain) (*entity.MessageReceipt, error) {
	elems, err := message.ToRaw(chain)
	if err != nil {
		return nil, err
	}
	r, err := c.engine.SendFriendMessage(ctx, uin, elems)
	return r, c.wrap("send friend message", err)
}

func (c *Client) SendGroupMessage(ctx context.Context, code int64, chain message.Chain) (*entity.MessageReceipt, error) {
	elems, err := message.ToRaw(chain)
	if err != nil {
		return nil, err
	}
	r, err := c.engine.SendGroupMessage(ctx, code, elems)
	return r, c.wrap("send group message", err)
}

// UploadFriendImage uploads data so it can be sent to friend uin.
func (c *Client) UploadFriendImage(ctx context.Context, uin int64, data []byte) (message.Image, error) {
	raw, err := c.engine.UploadFriendImage(ctx, uin, data)
	if err != nil {
		return message.Image{}, c.wrap("upload friend image", err)
	}
	return message.Image{URL: raw.URL, Raw: raw}, nil
}

// UploadGroupImage uploads data so it can be sent to group code.
func (c *Client) UploadGroupImage(ctx context.Context, code int64, data []byte) (message.Image, error) {
	raw, err := c.engine.UploadGroupImage(ctx, code, data)
	if err != nil {
		return message.Image{}, c.wrap("upload group image", err)
	}
	return message.Image{URL: raw.URL, Raw: raw}, nil
}

// Recall recalls every part of the message r was issued for.
func (c *Client) Recall(ctx context.Context, r *entity.MessageReceipt) error {
	if r == nil {
		return entity.ErrInvalidReceipt
	}
	pairs, err := r.Pairs()
	if err != nil {
		return err
	}
	var errs error
	for _, p := range pairs {
		if r.Kind == entity.ReceiptGroup {
			errs = multierr.Append(errs, c.RecallGroupMessage(ctx, r.Target, p.Seq, p.Rand))
		} else {
			errs = multierr.Append(errs, c.RecallFriendMessage(ctx, r.Target, r.Time, p.Seq, p.Rand))
		}
	}
	return errs
}

func (c *Client) RecallFriendMessage(ctx context.Context, uin, sentAt int64, seq, rand int32) error {
	return c.wrap("recall friend message", c.engine.RecallFriendMessage(ctx, uin, sentAt, seq, rand))
}

func (c *Client) RecallGroupMessage(ctx context.Context, code int64, seq, rand int32) error {
	return c.wrap("recall group message", c.engine.RecallGroupMessage(ctx, code, seq, rand))
}

// Management. Every successful call drops the cache entries it changed.

func (c *Client) MuteMember(ctx context.Context, group, uin int64, d time.Duration) error {
	if err := c.engine.MuteMember(ctx, group, uin, d); err != nil {
		return c.wrap("mute member", err)
	}
	c.cache.FlushMember(group, uin)
	return nil
}

func (c *Client) MuteGroup(ctx context.Context, group int64, mute bool) error {
	if err := c.engine.MuteGroup(ctx, group, mute); err != nil {
		return c.wrap("mute group", err)
	}
	c.cache.FlushGroup(group)
	return nil
}

func (c *Client) SetMemberCard(ctx context.Context, group, uin int64, card string) error {
	if err := c.engine.SetMemberCard(ctx, group, uin, card); err != nil {
		return c.wrap("set member card", err)
	}
	c.cache.FlushMember(group, uin)
	return nil
}

func (c *Client) SetMemberAdmin(ctx context.Context, group, uin int64, admin bool) error {
	if err := c.engine.SetMemberAdmin(ctx, group, uin, admin); err != nil {
		return c.wrap("set member admin", err)
	}
	c.cache.FlushMember(group, uin)
	return nil
}

func (c *Client) KickMember(ctx context.Context, group, uin int64, msg string, block bool) error {
	if err := c.engine.KickMember(ctx, group, uin, msg, block); err != nil {
		return c.wrap("kick member", err)
	}
	c.cache.FlushMember(group, uin)
	c.cache.FlushGroup(group)
	return nil
}

func (c *Client) RenameGroup(ctx context.Context, group int64, name string) error {
	if err := c.engine.RenameGroup(ctx, group, name); err != nil {
		return c.wrap("rename group", err)
	}
	c.cache.FlushGroup(group)
	return nil
}

func (c *Client) QuitGroup(ctx context.Context, group int64) error {
	if err := c.engine.QuitGroup(ctx, group); err != nil {
		return c.wrap("quit group", err)
	}
	c.cache.FlushGroup(group)
	return nil
}

func (c *Client) DeleteFriend(ctx context.Context, uin int64) error {
	if err := c.engine.DeleteFriend(ctx, uin); err != nil {
		return c.wrap("delete friend", err)
	}
	c.cache.FlushFriendList()
	return nil
}

func (c *Client) SendFriendPoke(ctx context.Context, uin int64) error {
	return c.wrap("send friend poke", c.engine.SendFriendPoke(ctx, uin))
}

func (c *Client) SendGroupPoke(ctx context.Context, group, uin int64) error {
	return c.wrap("send group poke", c.engine.SendGroupPoke(ctx, group, uin))
}
