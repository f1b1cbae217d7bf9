// Package platformtest 提供记录调用的内存协议端，用于测试
package platformtest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sealdice/sealbridge/platform"
)

// Call 一次协议端调用
type Call struct {
	Method string
	Args   []any
}

// Sent 一次发送
type Sent struct {
	Target   platform.Target
	Elements []platform.Element
	Nodes    []*platform.ForwardNode
	Voice    *platform.Voice
}

// Client 内存中的协议端，所有字段在使用前设置
type Client struct {
	Uin      int64
	Nickname string
	Friends  []*platform.FriendInfo
	Groups   []*platform.GroupInfo
	Members  map[int64][]*platform.MemberInfo

	// NextReceipt 非空时作为下一次发送的回执
	NextReceipt *platform.Receipt
	// Err 非空时所有调用返回该错误
	Err error
	// RunErr 非空时 Run 立即返回该错误
	RunErr error

	mu     sync.Mutex
	calls  []Call
	sent   []Sent
	seq    int32
	events chan platform.Event
	once   sync.Once
}

var _ platform.Client = (*Client)(nil)

func New(uin int64) *Client {
	return &Client{
		Uin:      uin,
		Nickname: "bot",
		Members:  map[int64][]*platform.MemberInfo{},
		events:   make(chan platform.Event, 64),
	}
}

// Emit 投递一个事件
func (c *Client) Emit(ev platform.Event) {
	c.events <- ev
}

func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsOf 指定方法的调用记录
func (c *Client) CallsOf(method string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) record(method string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method, Args: args})
	return c.Err
}

func (c *Client) receipt(s Sent) *platform.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, s)
	if r := c.NextReceipt; r != nil {
		c.NextReceipt = nil
		return r
	}
	c.seq++
	return &platform.Receipt{Seqs: []int32{c.seq}, Rands: []int32{c.seq + 1000}, Time: int32(time.Now().Unix())}
}

func (c *Client) Run(ctx context.Context) error {
	if c.RunErr != nil {
		return c.RunErr
	}
	select {
	case c.events <- &platform.LoginSuccess{Uin: c.Uin, Nickname: c.Nickname}:
	case <-ctx.Done():
		return nil
	}
	<-ctx.Done()
	return nil
}

func (c *Client) Events() <-chan platform.Event { return c.events }

func (c *Client) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *Client) SendMessage(_ context.Context, target platform.Target, elems []platform.Element) (*platform.Receipt, error) {
	if err := c.record("SendMessage", target, elems); err != nil {
		return nil, err
	}
	return c.receipt(Sent{Target: target, Elements: elems}), nil
}

func (c *Client) SendForward(_ context.Context, target platform.Target, nodes []*platform.ForwardNode) (*platform.Receipt, error) {
	if err := c.record("SendForward", target, nodes); err != nil {
		return nil, err
	}
	return c.receipt(Sent{Target: target, Nodes: nodes}), nil
}

func (c *Client) SendVoice(_ context.Context, target platform.Target, voice *platform.Voice) (*platform.Receipt, error) {
	if err := c.record("SendVoice", target, voice); err != nil {
		return nil, err
	}
	return c.receipt(Sent{Target: target, Voice: voice}), nil
}

func (c *Client) Recall(_ context.Context, target platform.Target, receipt *platform.Receipt) error {
	return c.record("Recall", target, receipt)
}

func (c *Client) Self(context.Context) (*platform.UserInfo, error) {
	if err := c.record("Self"); err != nil {
		return nil, err
	}
	return &platform.UserInfo{ID: c.Uin, Nickname: c.Nickname}, nil
}

func (c *Client) FetchUser(_ context.Context, userID int64) (*platform.UserInfo, error) {
	if err := c.record("FetchUser", userID); err != nil {
		return nil, err
	}
	return &platform.UserInfo{ID: userID, Nickname: "user"}, nil
}

func (c *Client) FetchFriends(context.Context) ([]*platform.FriendInfo, error) {
	if err := c.record("FetchFriends"); err != nil {
		return nil, err
	}
	return c.Friends, nil
}

func (c *Client) FetchGroups(context.Context) ([]*platform.GroupInfo, error) {
	if err := c.record("FetchGroups"); err != nil {
		return nil, err
	}
	return c.Groups, nil
}

func (c *Client) FetchGroupMembers(_ context.Context, groupID int64) ([]*platform.MemberInfo, error) {
	if err := c.record("FetchGroupMembers", groupID); err != nil {
		return nil, err
	}
	return c.Members[groupID], nil
}

func (c *Client) FetchGroupMember(_ context.Context, groupID, userID int64) (*platform.MemberInfo, error) {
	if err := c.record("FetchGroupMember", groupID, userID); err != nil {
		return nil, err
	}
	for _, m := range c.Members[groupID] {
		if m.UserID == userID {
			return m, nil
		}
	}
	return nil, platform.ErrUnsupported
}

func (c *Client) SetGroupName(_ context.Context, groupID int64, name string) error {
	return c.record("SetGroupName", groupID, name)
}

func (c *Client) LeaveGroup(_ context.Context, groupID int64) error {
	return c.record("LeaveGroup", groupID)
}

func (c *Client) KickMember(_ context.Context, groupID, userID int64, reject bool) error {
	return c.record("KickMember", groupID, userID, reject)
}

func (c *Client) MuteMember(_ context.Context, groupID, userID int64, duration time.Duration) error {
	return c.record("MuteMember", groupID, userID, duration)
}

func (c *Client) SetAdmin(_ context.Context, groupID, userID int64, enable bool) error {
	return c.record("SetAdmin", groupID, userID, enable)
}

func (c *Client) SetGroupCard(_ context.Context, groupID, userID int64, card string) error {
	return c.record("SetGroupCard", groupID, userID, card)
}

func (c *Client) UploadGroupFile(_ context.Context, groupID int64, path, name string) error {
	return c.record("UploadGroupFile", groupID, path, name)
}

func (c *Client) DeleteFriend(_ context.Context, userID int64) error {
	return c.record("DeleteFriend", userID)
}

func (c *Client) HandleFriendRequest(_ context.Context, flag string, accept bool) error {
	return c.record("HandleFriendRequest", flag, accept)
}

func (c *Client) HandleGroupRequest(_ context.Context, flag string, invited, accept, block bool, reason string) error {
	return c.record("HandleGroupRequest", flag, invited, accept, block, reason)
}

func (c *Client) UploadImage(_ context.Context, target platform.Target, data []byte) (*platform.Image, error) {
	if err := c.record("UploadImage", target, len(data)); err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	kind := platform.ImageGroup
	if target.Scene != platform.SceneGroup {
		kind = platform.ImageFriend
	}
	return &platform.Image{
		Scope: kind,
		MD5:   sum[:],
		Size:  uint32(len(data)),
		Ref:   "image-" + hex.EncodeToString(sum[:]),
	}, nil
}

func (c *Client) UploadVoice(_ context.Context, target platform.Target, data []byte) (*platform.Voice, error) {
	if err := c.record("UploadVoice", target, len(data)); err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	return &platform.Voice{
		MD5:  sum[:],
		Size: uint32(len(data)),
		Ref:  "voice-" + hex.EncodeToString(sum[:]),
	}, nil
}
