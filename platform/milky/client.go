// Package milky 通过 Milky 协议连接 QQ 协议实现
package milky

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	milky "github.com/Szzrain/Milky-go-sdk"
	"go.uber.org/zap"

	"github.com/sealdice/sealbridge/platform"
)

type Config struct {
	WsGateway   string `yaml:"ws_gateway"`
	RestGateway string `yaml:"rest_gateway"`
	Token       string `yaml:"token"`
}

// Client Milky 协议端
//
// Milky 不提供登录信息查询，账号必须在配置中给出
type Client struct {
	cfg Config
	uin int64
	log *zap.SugaredLogger

	mu      sync.RWMutex
	session *milky.Session

	events chan platform.Event
}

var (
	_ platform.Client     = (*Client)(nil)
	_ platform.GroupNamer = (*Client)(nil)
)

func New(cfg Config, uin int64) *Client {
	cfg.WsGateway = strings.TrimSuffix(cfg.WsGateway, "/")
	cfg.RestGateway = strings.TrimSuffix(cfg.RestGateway, "/")
	return &Client{
		cfg:    cfg,
		uin:    uin,
		log:    zap.S().Named("milky"),
		events: make(chan platform.Event, 256),
	}
}

// Events 事件通道，不会被关闭
func (c *Client) Events() <-chan platform.Event { return c.events }

func (c *Client) emit(ev platform.Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warnf("事件队列已满，丢弃 %T", ev)
	}
}

func (c *Client) Run(ctx context.Context) error {
	if c.uin == 0 {
		return fmt.Errorf("%w: milky requires a configured account", platform.ErrLoginFatal)
	}
	if c.cfg.WsGateway == "" || c.cfg.RestGateway == "" {
		return fmt.Errorf("%w: milky gateways not configured", platform.ErrLoginFatal)
	}

	session, err := milky.New(c.cfg.WsGateway, c.cfg.RestGateway, c.cfg.Token, c.log)
	if err != nil {
		return fmt.Errorf("%w: milky sdk init: %v", platform.ErrLoginFatal, err)
	}
	session.AddHandler(func(_ *milky.Session, m *milky.ReceiveMessage) {
		if ev := c.convertMessage(m); ev != nil {
			c.emit(ev)
		}
	})
	session.AddHandler(func(_ *milky.Session, m *milky.GroupNudge) {
		if m == nil {
			return
		}
		c.emit(&platform.GroupPoke{GroupID: m.GroupID, SenderID: m.SenderID, ReceiverID: m.ReceiverID, Time: time.Now().Unix()})
	})

	backoff := time.Second
	for {
		if err := session.Open(); err == nil {
			break
		} else {
			c.log.Warnf("Milky 连接失败: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.emit(&platform.Connected{})
	c.emit(&platform.LoginSuccess{Uin: c.uin})

	<-ctx.Done()
	c.closeSession()
	c.emit(&platform.Disconnected{Reason: "closed"})
	return nil
}

func (c *Client) closeSession() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

func (c *Client) Close() error {
	c.closeSession()
	return nil
}

func (c *Client) current() (*milky.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, platform.ErrNotConnected
	}
	return c.session, nil
}

// seqOf 消息序号在不同 SDK 版本中类型不同
func seqOf(v any) int32 {
	switch x := v.(type) {
	case int64:
		return int32(x)
	case int32:
		return x
	case int:
		return int32(x)
	case uint64:
		return int32(x)
	case uint32:
		return int32(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return int32(n)
	}
	return 0
}

func (c *Client) convertMessage(m *milky.ReceiveMessage) platform.Event {
	if m == nil {
		return nil
	}
	seq := seqOf(m.MessageSeq)
	meta := platform.MessageMeta{Seq: seq, Rand: seq, Time: int32(m.Time)}

	switch m.MessageScene {
	case "group":
		if m.Group == nil {
			c.log.Warnf("群消息缺少群信息: seq=%d", seq)
			return nil
		}
		ev := &platform.GroupMessage{
			MessageMeta: meta,
			GroupID:     m.Group.GroupId,
			GroupName:   m.Group.Name,
			SenderID:    m.SenderId,
			Elements:    c.fromMilky(platform.SceneGroup, m.Segments),
		}
		if m.GroupMember != nil {
			ev.SenderName = m.GroupMember.Nickname
			ev.SenderRole = platform.Role(m.GroupMember.Role)
		}
		return ev
	case "friend":
		ev := &platform.PrivateMessage{
			MessageMeta: meta,
			SenderID:    m.SenderId,
			Elements:    c.fromMilky(platform.ScenePrivate, m.Segments),
		}
		if m.Friend != nil {
			ev.SenderName = m.Friend.Nickname
		}
		return ev
	case "temp":
		if m.Group == nil {
			return nil
		}
		return &platform.TempMessage{
			MessageMeta: meta,
			GroupID:     m.Group.GroupId,
			GroupName:   m.Group.Name,
			SenderID:    m.SenderId,
			Elements:    c.fromMilky(platform.SceneTemp, m.Segments),
		}
	}
	c.log.Debugf("忽略消息场景 %q", m.MessageScene)
	return nil
}

func (c *Client) fromMilky(scene platform.Scene, segs []milky.IMessageElement) []platform.Element {
	var result []platform.Element
	for _, segment := range segs {
		switch seg := segment.(type) {
		case *milky.TextElement:
			result = append(result, &platform.Text{Content: seg.Text})
		case *milky.AtElement:
			result = append(result, &platform.At{Target: seg.UserID})
		case *milky.ImageElement:
			url := seg.TempURL
			if url == "" {
				url = seg.URI
			}
			kind := platform.ImageFriend
			if scene == platform.SceneGroup {
				kind = platform.ImageGroup
			}
			result = append(result, &platform.Image{
				Scope: kind,
				URL:   url,
				Flash: seg.SubType == "flash",
				Ref:   url,
			})
		case *milky.RecordElement:
			result = append(result, &platform.Voice{URL: seg.URI, Ref: seg.URI})
		case *milky.ReplyElement:
			seq := int32(seg.MessageSeq)
			result = append(result, &platform.Reply{Seq: seq, Rand: seq})
		default:
			result = append(result, &platform.Unsupported{Type: fmt.Sprintf("%T", segment)})
		}
	}
	return result
}

func mediaURI(ref string, data []byte, url string) string {
	switch {
	case ref != "":
		return ref
	case len(data) > 0:
		return "base64://" + base64.StdEncoding.EncodeToString(data)
	default:
		return url
	}
}

func (c *Client) toMilky(elems []platform.Element) []milky.IMessageElement {
	var out []milky.IMessageElement
	for _, elem := range elems {
		switch e := elem.(type) {
		case *platform.Text:
			out = append(out, &milky.TextElement{Text: e.Content})
		case *platform.At:
			if e.Target == 0 {
				out = append(out, &milky.TextElement{Text: "@全体成员"})
				continue
			}
			out = append(out, &milky.AtElement{UserID: e.Target})
		case *platform.Image:
			subType := "normal"
			if e.Flash {
				subType = "flash"
			}
			out = append(out, &milky.ImageElement{URI: mediaURI(e.Ref, e.Data, e.URL), SubType: subType})
		case *platform.Voice:
			out = append(out, &milky.RecordElement{URI: mediaURI(e.Ref, e.Data, e.URL)})
		case *platform.Reply:
			out = append(out, &milky.ReplyElement{MessageSeq: int64(e.Seq)})
		default:
			c.log.Debugf("Milky 不支持发送元素 %s", elem.Kind())
		}
	}
	return out
}

func (c *Client) SendMessage(_ context.Context, target platform.Target, elems []platform.Element) (*platform.Receipt, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	elements := c.toMilky(elems)

	var seq int32
	switch target.Scene {
	case platform.SceneGroup:
		ret, err := s.SendGroupMessage(target.GroupID, &elements)
		if err != nil {
			return nil, err
		}
		seq = seqOf(ret.MessageSeq)
	case platform.ScenePrivate:
		ret, err := s.SendPrivateMessage(target.UserID, &elements)
		if err != nil {
			return nil, err
		}
		seq = seqOf(ret.MessageSeq)
	default:
		return nil, platform.ErrUnsupported
	}
	return &platform.Receipt{Seqs: []int32{seq}, Rands: []int32{seq}, Time: int32(time.Now().Unix())}, nil
}

func (c *Client) SendForward(context.Context, platform.Target, []*platform.ForwardNode) (*platform.Receipt, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) SendVoice(ctx context.Context, target platform.Target, voice *platform.Voice) (*platform.Receipt, error) {
	return c.SendMessage(ctx, target, []platform.Element{voice})
}

func (c *Client) Recall(context.Context, platform.Target, *platform.Receipt) error {
	return platform.ErrUnsupported
}

func (c *Client) Self(context.Context) (*platform.UserInfo, error) {
	return &platform.UserInfo{ID: c.uin}, nil
}

func (c *Client) FetchUser(context.Context, int64) (*platform.UserInfo, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) FetchFriends(context.Context) ([]*platform.FriendInfo, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) FetchGroups(context.Context) ([]*platform.GroupInfo, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) FetchGroupMembers(context.Context, int64) ([]*platform.MemberInfo, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) FetchGroupMember(context.Context, int64, int64) (*platform.MemberInfo, error) {
	return nil, platform.ErrUnsupported
}

// FetchGroupName 查询群名称
func (c *Client) FetchGroupName(_ context.Context, groupID int64) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	info, err := s.GetGroupInfo(groupID, false)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

func (c *Client) SetGroupName(context.Context, int64, string) error {
	return platform.ErrUnsupported
}

func (c *Client) LeaveGroup(_ context.Context, groupID int64) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.QuitGroup(groupID)
}

func (c *Client) KickMember(_ context.Context, groupID, userID int64, reject bool) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.KickGroupMember(groupID, userID, reject)
}

func (c *Client) MuteMember(_ context.Context, groupID, userID int64, duration time.Duration) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.SetGroupMemberMute(groupID, userID, int64(duration/time.Second))
}

func (c *Client) SetAdmin(context.Context, int64, int64, bool) error {
	return platform.ErrUnsupported
}

func (c *Client) SetGroupCard(_ context.Context, groupID, userID int64, card string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.SetGroupMemberCard(groupID, userID, card)
}

func (c *Client) UploadGroupFile(_ context.Context, groupID int64, path, name string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if !strings.Contains(path, "://") {
		path = "file://" + path
	}
	_, err = s.UploadGroupFile(groupID, path, name, "")
	return err
}

func (c *Client) DeleteFriend(context.Context, int64) error {
	return platform.ErrUnsupported
}

func (c *Client) HandleFriendRequest(context.Context, string, bool) error {
	return platform.ErrUnsupported
}

func (c *Client) HandleGroupRequest(context.Context, string, bool, bool, bool, string) error {
	return platform.ErrUnsupported
}

// UploadImage 图片数据随消息以 base64 发送
func (c *Client) UploadImage(context.Context, platform.Target, []byte) (*platform.Image, error) {
	return nil, platform.ErrUnsupported
}

func (c *Client) UploadVoice(context.Context, platform.Target, []byte) (*platform.Voice, error) {
	return nil, platform.ErrUnsupported
}
