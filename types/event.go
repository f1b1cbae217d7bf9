package types

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const (
	ImplName     = "sealbridge"
	PlatformName = "qq"
)

// 事件类型
const (
	EventMessage = "message"
	EventNotice  = "notice"
	EventRequest = "request"
	EventMeta    = "meta"
)

// 消息事件 detail_type
const (
	DetailGroup     = "group"
	DetailPrivate   = "private"
	DetailGroupTemp = "group_temp"
)

// 通知事件 detail_type
const (
	DetailMemberIncrease  = "group_member_increase"
	DetailMemberDecrease  = "group_member_decrease"
	DetailMemberBan       = "group_member_ban"
	DetailMemberUnban     = "group_member_unban"
	DetailWholeBan        = "group_whole_ban"
	DetailWholeUnban      = "group_whole_unban"
	DetailGroupMsgDelete  = "group_message_delete"
	DetailPrivMsgDelete   = "private_message_delete"
	DetailFriendIncrease  = "friend_increase"
	DetailFriendDecrease  = "friend_decrease"
	DetailGroupAdminSet   = "group_admin_set"
	DetailGroupAdminUnset = "group_admin_unset"
	DetailGroupNameUpdate = "group_name_update"
	DetailGroupPoke       = "group_poke"
	DetailFriendPoke      = "friend_poke"
)

// 请求事件 detail_type
const (
	DetailNewFriend    = "new_friend"
	DetailJoinGroup    = "join_group"
	DetailGroupInvited = "group_invited"
)

// 元事件 detail_type
const (
	DetailConnect      = "connect"
	DetailHeartbeat    = "heartbeat"
	DetailStatusUpdate = "status_update"
)

type Self struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
}

// Content 事件内容，只有本包中的四种实现
type Content interface {
	EventType() string
	Detail() string
	Sub() string
	sealed()
}

type MessageContent struct {
	DetailType string   `json:"detail_type"`
	SubType    string   `json:"sub_type"`
	MessageID  string   `json:"message_id"`
	Message    Segments `json:"message"`
	AltMessage string   `json:"alt_message"`
	UserID     string   `json:"user_id"`
	GroupID    string   `json:"group_id,omitempty"`
	UserName   string   `json:"user_name,omitempty"`
	GroupName  string   `json:"group_name,omitempty"`
}

type NoticeContent struct {
	DetailType string `json:"detail_type"`
	SubType    string `json:"sub_type"`
	GroupID    string `json:"group_id,omitempty"`
	GroupName  string `json:"group_name,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
}

type RequestContent struct {
	DetailType string `json:"detail_type"`
	SubType    string `json:"sub_type"`
	RequestID  string `json:"request_id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	GroupName  string `json:"group_name,omitempty"`
	Message    string `json:"message"`
	Suspicious bool   `json:"suspicious"`
}

type MetaContent struct {
	DetailType string `json:"detail_type"`
	SubType    string `json:"sub_type"`
	Status     any    `json:"status,omitempty"`
	Interval   int64  `json:"interval,omitempty"`
}

func (*MessageContent) EventType() string { return EventMessage }
func (c *MessageContent) Detail() string  { return c.DetailType }
func (c *MessageContent) Sub() string     { return c.SubType }
func (*MessageContent) sealed()           {}

func (*NoticeContent) EventType() string { return EventNotice }
func (c *NoticeContent) Detail() string  { return c.DetailType }
func (c *NoticeContent) Sub() string     { return c.SubType }
func (*NoticeContent) sealed()           {}

func (*RequestContent) EventType() string { return EventRequest }
func (c *RequestContent) Detail() string  { return c.DetailType }
func (c *RequestContent) Sub() string     { return c.SubType }
func (*RequestContent) sealed()           {}

func (*MetaContent) EventType() string { return EventMeta }
func (c *MetaContent) Detail() string  { return c.DetailType }
func (c *MetaContent) Sub() string     { return c.SubType }
func (*MetaContent) sealed()           {}

// Event 标准化后的 OneBot v12 事件
type Event struct {
	ID       string
	Impl     string
	Platform string
	SelfID   string
	Time     float64
	Content  Content
}

func (e *Event) Type() string { return e.Content.EventType() }

// Message 消息事件的内容，非消息事件返回 nil
func (e *Event) Message() *MessageContent {
	m, _ := e.Content.(*MessageContent)
	return m
}

// MarshalJSON 输出扁平结构，内容字段与公共字段位于同一层
func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Content == nil {
		return nil, fmt.Errorf("event %s has no content", e.ID)
	}
	raw, err := json.Marshal(e.Content)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err = json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	put := func(k string, v any) {
		b, _ := json.Marshal(v)
		m[k] = b
	}
	put("id", e.ID)
	put("impl", e.Impl)
	put("time", e.Time)
	put("type", e.Content.EventType())
	put("self", Self{Platform: e.Platform, UserID: e.SelfID})
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	var c Content
	switch t := r.Get("type").String(); t {
	case EventMessage:
		c = &MessageContent{}
	case EventNotice:
		c = &NoticeContent{}
	case EventRequest:
		c = &RequestContent{}
	case EventMeta:
		c = &MetaContent{}
	default:
		return fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	e.ID = r.Get("id").String()
	e.Impl = r.Get("impl").String()
	e.Time = r.Get("time").Float()
	e.Platform = r.Get("self.platform").String()
	e.SelfID = r.Get("self.user_id").String()
	e.Content = c
	return nil
}
