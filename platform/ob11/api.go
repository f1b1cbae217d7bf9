package ob11

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/sealdice/sealbridge/platform"
)

func (c *Client) receipt(resp *sendResponse) *platform.Receipt {
	id := int32(rawInt(resp.MessageID))
	return &platform.Receipt{Seqs: []int32{id}, Rands: []int32{id}, Time: int32(time.Now().Unix())}
}

func targetParams(target platform.Target) (string, map[string]any) {
	switch target.Scene {
	case platform.SceneGroup:
		return "group", map[string]any{"group_id": target.GroupID}
	case platform.SceneTemp:
		return "private", map[string]any{"user_id": target.UserID, "group_id": target.GroupID}
	default:
		return "private", map[string]any{"user_id": target.UserID}
	}
}

func (c *Client) SendMessage(ctx context.Context, target platform.Target, elems []platform.Element) (*platform.Receipt, error) {
	kind, params := targetParams(target)
	params["message"] = c.toSegments(elems)

	var resp sendResponse
	if err := c.callAction(ctx, "send_"+kind+"_msg", params, &resp); err != nil {
		return nil, err
	}
	return c.receipt(&resp), nil
}

func (c *Client) SendForward(ctx context.Context, target platform.Target, nodes []*platform.ForwardNode) (*platform.Receipt, error) {
	if target.Scene == platform.SceneTemp {
		return nil, platform.ErrUnsupported
	}
	kind, params := targetParams(target)
	params["messages"] = c.toNodes(nodes)

	var resp sendResponse
	if err := c.callAction(ctx, "send_"+kind+"_forward_msg", params, &resp); err != nil {
		return nil, err
	}
	return c.receipt(&resp), nil
}

func (c *Client) SendVoice(ctx context.Context, target platform.Target, voice *platform.Voice) (*platform.Receipt, error) {
	return c.SendMessage(ctx, target, []platform.Element{voice})
}

func (c *Client) Recall(ctx context.Context, _ platform.Target, receipt *platform.Receipt) error {
	if receipt == nil || len(receipt.Seqs) == 0 {
		return fmt.Errorf("ob11 recall: empty receipt")
	}
	for _, id := range receipt.Seqs {
		if err := c.callAction(ctx, "delete_msg", map[string]any{"message_id": id}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Self(ctx context.Context) (*platform.UserInfo, error) {
	var resp struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	if err := c.callAction(ctx, "get_login_info", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return &platform.UserInfo{ID: resp.UserID, Nickname: resp.Nickname}, nil
}

func (c *Client) FetchUser(ctx context.Context, userID int64) (*platform.UserInfo, error) {
	var resp struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	if err := c.callAction(ctx, "get_stranger_info", map[string]any{"user_id": userID}, &resp); err != nil {
		return nil, err
	}
	return &platform.UserInfo{ID: userID, Nickname: resp.Nickname}, nil
}

type friendEntry struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

func (c *Client) FetchFriends(ctx context.Context) ([]*platform.FriendInfo, error) {
	var resp []friendEntry
	if err := c.callAction(ctx, "get_friend_list", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return lo.Map(resp, func(f friendEntry, _ int) *platform.FriendInfo {
		return &platform.FriendInfo{ID: f.UserID, Nickname: f.Nickname, Remark: f.Remark}
	}), nil
}

type groupEntry struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int32  `json:"member_count"`
	MaxMemberCount int32  `json:"max_member_count"`
}

func (g groupEntry) info() *platform.GroupInfo {
	return &platform.GroupInfo{
		ID:          g.GroupID,
		Name:        g.GroupName,
		MemberCount: g.MemberCount,
		MaxMembers:  g.MaxMemberCount,
		SelfRole:    platform.RoleMember,
	}
}

// FetchGroups 额外查询自身在各群的身份
func (c *Client) FetchGroups(ctx context.Context) ([]*platform.GroupInfo, error) {
	var resp []groupEntry
	if err := c.callAction(ctx, "get_group_list", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	self := c.selfID.Load()
	groups := make([]*platform.GroupInfo, 0, len(resp))
	for _, g := range resp {
		info := g.info()
		if self != 0 {
			if m, err := c.FetchGroupMember(ctx, g.GroupID, self); err == nil {
				info.SelfRole = m.Role
			} else {
				c.log.Debugf("查询群 %d 自身身份失败: %v", g.GroupID, err)
			}
		}
		groups = append(groups, info)
	}
	return groups, nil
}

type memberEntry struct {
	GroupID      int64  `json:"group_id"`
	UserID       int64  `json:"user_id"`
	Nickname     string `json:"nickname"`
	Card         string `json:"card"`
	Role         string `json:"role"`
	JoinTime     int64  `json:"join_time"`
	LastSentTime int64  `json:"last_sent_time"`
}

func (m memberEntry) info() *platform.MemberInfo {
	return &platform.MemberInfo{
		GroupID:   m.GroupID,
		UserID:    m.UserID,
		Nickname:  m.Nickname,
		Card:      m.Card,
		Role:      platform.Role(m.Role),
		JoinTime:  m.JoinTime,
		LastSpeak: m.LastSentTime,
	}
}

func (c *Client) FetchGroupMembers(ctx context.Context, groupID int64) ([]*platform.MemberInfo, error) {
	var resp []memberEntry
	if err := c.callAction(ctx, "get_group_member_list", map[string]any{"group_id": groupID}, &resp); err != nil {
		return nil, err
	}
	return lo.Map(resp, func(m memberEntry, _ int) *platform.MemberInfo { return m.info() }), nil
}

func (c *Client) FetchGroupMember(ctx context.Context, groupID, userID int64) (*platform.MemberInfo, error) {
	var resp memberEntry
	params := map[string]any{"group_id": groupID, "user_id": userID, "no_cache": true}
	if err := c.callAction(ctx, "get_group_member_info", params, &resp); err != nil {
		return nil, err
	}
	return resp.info(), nil
}

func (c *Client) SetGroupName(ctx context.Context, groupID int64, name string) error {
	return c.callAction(ctx, "set_group_name", map[string]any{"group_id": groupID, "group_name": name}, nil)
}

func (c *Client) LeaveGroup(ctx context.Context, groupID int64) error {
	return c.callAction(ctx, "set_group_leave", map[string]any{"group_id": groupID, "is_dismiss": false}, nil)
}

func (c *Client) KickMember(ctx context.Context, groupID, userID int64, reject bool) error {
	params := map[string]any{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": reject,
	}
	return c.callAction(ctx, "set_group_kick", params, nil)
}

func (c *Client) MuteMember(ctx context.Context, groupID, userID int64, duration time.Duration) error {
	params := map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"duration": int64(duration / time.Second),
	}
	return c.callAction(ctx, "set_group_ban", params, nil)
}

func (c *Client) SetAdmin(ctx context.Context, groupID, userID int64, enable bool) error {
	params := map[string]any{"group_id": groupID, "user_id": userID, "enable": enable}
	return c.callAction(ctx, "set_group_admin", params, nil)
}

func (c *Client) SetGroupCard(ctx context.Context, groupID, userID int64, card string) error {
	params := map[string]any{"group_id": groupID, "user_id": userID, "card": card}
	return c.callAction(ctx, "set_group_card", params, nil)
}

func (c *Client) UploadGroupFile(ctx context.Context, groupID int64, path, name string) error {
	params := map[string]any{"group_id": groupID, "file": path, "name": name}
	return c.callAction(ctx, "upload_group_file", params, nil)
}

func (c *Client) DeleteFriend(ctx context.Context, userID int64) error {
	return c.callAction(ctx, "delete_friend", map[string]any{"user_id": userID}, nil)
}

func (c *Client) HandleFriendRequest(ctx context.Context, flag string, accept bool) error {
	return c.callAction(ctx, "set_friend_add_request", map[string]any{"flag": flag, "approve": accept}, nil)
}

// HandleGroupRequest OneBot 11 没有拉黑选项，block 被忽略
func (c *Client) HandleGroupRequest(ctx context.Context, flag string, invited, accept, block bool, reason string) error {
	subType := "add"
	if invited {
		subType = "invite"
	}
	if block {
		c.log.Debugf("加群请求 %s: 忽略 block", flag)
	}
	params := map[string]any{
		"flag":     flag,
		"sub_type": subType,
		"approve":  accept,
		"reason":   reason,
	}
	return c.callAction(ctx, "set_group_add_request", params, nil)
}

// UploadImage OneBot 11 没有独立的上传接口，数据会随消息以 base64 发送
func (c *Client) UploadImage(context.Context, platform.Target, []byte) (*platform.Image, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) UploadVoice(context.Context, platform.Target, []byte) (*platform.Voice, error) {
	return nil, platform.ErrUnsupported
}
