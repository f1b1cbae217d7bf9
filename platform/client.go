// Package platform 定义 QQ 协议端的能力接口、消息元素与事件
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupported 协议端不支持该操作
	ErrUnsupported = errors.New("platform: operation not supported")
	// ErrLoginFatal 登录失败且无法重试，账号应被移除
	ErrLoginFatal = errors.New("platform: fatal login failure")
	// ErrNotConnected 尚未与协议端建立连接
	ErrNotConnected = errors.New("platform: not connected")
)

type Scene int

const (
	SceneGroup Scene = iota
	ScenePrivate
	SceneTemp
)

func (s Scene) String() string {
	switch s {
	case SceneGroup:
		return "group"
	case ScenePrivate:
		return "private"
	case SceneTemp:
		return "temp"
	}
	return "unknown"
}

// Target 消息发送目标，临时会话需要同时给出群号与用户
type Target struct {
	Scene   Scene
	GroupID int64
	UserID  int64
}

func GroupTarget(groupID int64) Target { return Target{Scene: SceneGroup, GroupID: groupID} }
func PrivateTarget(userID int64) Target {
	return Target{Scene: ScenePrivate, UserID: userID}
}
func TempTarget(groupID, userID int64) Target {
	return Target{Scene: SceneTemp, GroupID: groupID, UserID: userID}
}

// Peer 用于消息ID编码的会话对象：群聊为群号，其余为用户
func (t Target) Peer() int64 {
	if t.Scene == SceneGroup {
		return t.GroupID
	}
	return t.UserID
}

// Receipt 发送回执，一条逻辑消息可能被拆分为多段
type Receipt struct {
	Seqs  []int32
	Rands []int32
	Time  int32
}

// Blocked 序号或随机数为 0 说明消息被风控拦截
func (r *Receipt) Blocked() bool {
	if r == nil || len(r.Seqs) == 0 || len(r.Rands) == 0 {
		return true
	}
	for _, v := range r.Seqs {
		if v == 0 {
			return true
		}
	}
	for _, v := range r.Rands {
		if v == 0 {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type UserInfo struct {
	ID       int64
	Nickname string
}

type FriendInfo struct {
	ID       int64
	Nickname string
	Remark   string
}

type GroupInfo struct {
	ID          int64
	Name        string
	OwnerID     int64
	MemberCount int32
	MaxMembers  int32
	// 本账号在群内的身份
	SelfRole Role
}

type MemberInfo struct {
	GroupID   int64
	UserID    int64
	Nickname  string
	Card      string
	Role      Role
	JoinTime  int64
	LastSpeak int64
}

// DisplayName 群名片优先
func (m *MemberInfo) DisplayName() string {
	if m.Card != "" {
		return m.Card
	}
	return m.Nickname
}

type Messenger interface {
	SendMessage(ctx context.Context, target Target, elems []Element) (*Receipt, error)
	SendForward(ctx context.Context, target Target, nodes []*ForwardNode) (*Receipt, error)
	SendVoice(ctx context.Context, target Target, voice *Voice) (*Receipt, error)
	Recall(ctx context.Context, target Target, receipt *Receipt) error
}

type Directory interface {
	Self(ctx context.Context) (*UserInfo, error)
	FetchUser(ctx context.Context, userID int64) (*UserInfo, error)
	FetchFriends(ctx context.Context) ([]*FriendInfo, error)
	FetchGroups(ctx context.Context) ([]*GroupInfo, error)
	FetchGroupMembers(ctx context.Context, groupID int64) ([]*MemberInfo, error)
	FetchGroupMember(ctx context.Context, groupID, userID int64) (*MemberInfo, error)
}

type GroupAdmin interface {
	SetGroupName(ctx context.Context, groupID int64, name string) error
	LeaveGroup(ctx context.Context, groupID int64) error
	KickMember(ctx context.Context, groupID, userID int64, reject bool) error
	// MuteMember duration 为 0 时解除禁言
	MuteMember(ctx context.Context, groupID, userID int64, duration time.Duration) error
	SetAdmin(ctx context.Context, groupID, userID int64, enable bool) error
	SetGroupCard(ctx context.Context, groupID, userID int64, card string) error
	UploadGroupFile(ctx context.Context, groupID int64, path, name string) error
}

// Requests 好友关系与加好友/加群请求
type Requests interface {
	DeleteFriend(ctx context.Context, userID int64) error
	HandleFriendRequest(ctx context.Context, flag string, accept bool) error
	HandleGroupRequest(ctx context.Context, flag string, invited, accept, block bool, reason string) error
}

// Media 将数据上传为平台侧的图片/语音引用
type Media interface {
	UploadImage(ctx context.Context, target Target, data []byte) (*Image, error)
	UploadVoice(ctx context.Context, target Target, data []byte) (*Voice, error)
}

// GroupNamer 无法列出群列表的协议端可按群号查询群名
type GroupNamer interface {
	FetchGroupName(ctx context.Context, groupID int64) (string, error)
}

// Client 一个已登录账号的协议端
type Client interface {
	Messenger
	Directory
	GroupAdmin
	Requests
	Media

	// Run 保持连接直到 ctx 结束，登录无法完成时返回包装了 ErrLoginFatal 的错误
	Run(ctx context.Context) error
	Events() <-chan Event
	Close() error
}
