package ob11

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sealdice/sealbridge/platform"
)

type baseFrame struct {
	PostType string          `json:"post_type"`
	Echo     json.RawMessage `json:"echo"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	RetCode int64           `json:"retcode"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
	Echo    json.RawMessage `json:"echo"`
}

func (r *apiResponse) message() string {
	if r.Wording != "" {
		return r.Wording
	}
	return r.Message
}

type sendResponse struct {
	MessageID json.RawMessage `json:"message_id"`
}

type messageEvent struct {
	MessageType string          `json:"message_type"`
	SubType     string          `json:"sub_type"`
	Time        int64           `json:"time"`
	RawMessage  string          `json:"raw_message"`
	Message     json.RawMessage `json:"message"`
	GroupID     json.RawMessage `json:"group_id"`
	GroupName   string          `json:"group_name"`
	UserID      json.RawMessage `json:"user_id"`
	MessageID   json.RawMessage `json:"message_id"`
	Sender      sender          `json:"sender"`
}

type sender struct {
	UserID   json.RawMessage `json:"user_id"`
	GroupID  json.RawMessage `json:"group_id"`
	Nickname string          `json:"nickname"`
	Card     string          `json:"card"`
	Role     string          `json:"role"`
}

type noticeEvent struct {
	NoticeType string          `json:"notice_type"`
	SubType    string          `json:"sub_type"`
	Time       int64           `json:"time"`
	GroupID    json.RawMessage `json:"group_id"`
	UserID     json.RawMessage `json:"user_id"`
	OperatorID json.RawMessage `json:"operator_id"`
	TargetID   json.RawMessage `json:"target_id"`
	SenderID   json.RawMessage `json:"sender_id"`
	MessageID  json.RawMessage `json:"message_id"`
	Duration   int64           `json:"duration"`
	NameNew    string          `json:"name_new"`
	Nickname   string          `json:"nickname"`
}

type requestEvent struct {
	RequestType string          `json:"request_type"`
	SubType     string          `json:"sub_type"`
	Time        int64           `json:"time"`
	GroupID     json.RawMessage `json:"group_id"`
	UserID      json.RawMessage `json:"user_id"`
	InvitorID   json.RawMessage `json:"invitor_id"`
	Flag        string          `json:"flag"`
	Comment     string          `json:"comment"`
}

type metaEvent struct {
	MetaEventType string `json:"meta_event_type"`
	SubType       string `json:"sub_type"`
}

func sanitizeRawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, "\"")
	if s == "null" {
		return ""
	}
	return s
}

func rawInt(raw json.RawMessage) int64 {
	n, _ := strconv.ParseInt(sanitizeRawMessage(raw), 10, 64)
	return n
}

func (c *Client) dispatchFrame(ctx context.Context, payload []byte) error {
	var base baseFrame
	if err := json.Unmarshal(payload, &base); err != nil {
		return err
	}

	if len(base.Echo) != 0 && base.PostType == "" {
		echo := sanitizeRawMessage(base.Echo)
		if chVal, ok := c.pending.LoadAndDelete(echo); ok {
			var resp apiResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				resp = apiResponse{Status: "failed", Message: err.Error(), Echo: base.Echo}
			}

			ch := chVal.(chan apiResponse)
			select {
			case ch <- resp:
			default:
			}
		}
		return nil
	}

	ev, err := c.convertFrame(base.PostType, payload)
	if err != nil {
		return err
	}
	if ev != nil {
		c.emit(ctx, ev)
	}
	return nil
}

// convertFrame 将上报转换为平台事件，无对应事件时返回 nil
func (c *Client) convertFrame(postType string, payload []byte) (platform.Event, error) {
	switch postType {
	case "message":
		var evt messageEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return c.convertMessage(&evt), nil
	case "notice":
		var evt noticeEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return c.convertNotice(&evt), nil
	case "request":
		var evt requestEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		return c.convertRequest(&evt), nil
	case "meta_event":
		var evt metaEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		if evt.MetaEventType == "lifecycle" && evt.SubType == "connect" {
			return &platform.Connected{}, nil
		}
		return nil, nil
	}
	c.log.Debugf("忽略上报类型 %q", postType)
	return nil, nil
}

func (c *Client) extractSegments(scene platform.Scene, raw json.RawMessage, rawText string) []platform.Element {
	var arrayPayload []segment
	if err := json.Unmarshal(raw, &arrayPayload); err == nil {
		return c.fromSegments(scene, arrayPayload)
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return []platform.Element{&platform.Text{Content: plain}}
	}
	if rawText != "" {
		return []platform.Element{&platform.Text{Content: rawText}}
	}
	return nil
}

func (c *Client) convertMessage(evt *messageEvent) platform.Event {
	senderID := rawInt(evt.Sender.UserID)
	if senderID == 0 {
		senderID = rawInt(evt.UserID)
	}
	name := evt.Sender.Card
	if name == "" {
		name = evt.Sender.Nickname
	}
	// OneBot 11 只有一个 message_id，序号与随机数都取它
	id := int32(rawInt(evt.MessageID))
	meta := platform.MessageMeta{Seq: id, Rand: id, Time: int32(evt.Time)}

	switch evt.MessageType {
	case "group":
		return &platform.GroupMessage{
			MessageMeta: meta,
			GroupID:     rawInt(evt.GroupID),
			GroupName:   evt.GroupName,
			SenderID:    senderID,
			SenderName:  name,
			SenderRole:  platform.Role(evt.Sender.Role),
			Elements:    c.extractSegments(platform.SceneGroup, evt.Message, evt.RawMessage),
		}
	case "private":
		if evt.SubType == "group" {
			groupID := rawInt(evt.GroupID)
			if groupID == 0 {
				groupID = rawInt(evt.Sender.GroupID)
			}
			return &platform.TempMessage{
				MessageMeta: meta,
				GroupID:     groupID,
				SenderID:    senderID,
				SenderName:  name,
				Elements:    c.extractSegments(platform.SceneTemp, evt.Message, evt.RawMessage),
			}
		}
		return &platform.PrivateMessage{
			MessageMeta: meta,
			SenderID:    senderID,
			SenderName:  name,
			Elements:    c.extractSegments(platform.ScenePrivate, evt.Message, evt.RawMessage),
		}
	}
	c.log.Debugf("忽略消息类型 %q", evt.MessageType)
	return nil
}

func (c *Client) convertNotice(evt *noticeEvent) platform.Event {
	groupID := rawInt(evt.GroupID)
	userID := rawInt(evt.UserID)
	operatorID := rawInt(evt.OperatorID)

	switch evt.NoticeType {
	case "group_increase":
		var inviter int64
		if evt.SubType == "invite" {
			inviter = operatorID
		}
		return &platform.GroupMemberJoined{GroupID: groupID, UserID: userID, InviterID: inviter, Time: evt.Time}
	case "group_decrease":
		var operator int64
		if evt.SubType != "leave" {
			operator = operatorID
		}
		return &platform.GroupMemberLeft{GroupID: groupID, UserID: userID, OperatorID: operator, Time: evt.Time}
	case "group_ban":
		duration := int32(evt.Duration)
		if evt.SubType == "lift_ban" {
			duration = 0
		}
		return &platform.GroupMute{GroupID: groupID, OperatorID: operatorID, TargetID: userID, Duration: duration, Time: evt.Time}
	case "group_recall":
		id := int32(rawInt(evt.MessageID))
		return &platform.GroupRecall{
			MessageMeta: platform.MessageMeta{Seq: id, Rand: id},
			GroupID:     groupID,
			AuthorID:    userID,
			OperatorID:  operatorID,
			EventTime:   evt.Time,
		}
	case "friend_recall":
		id := int32(rawInt(evt.MessageID))
		return &platform.FriendRecall{
			MessageMeta: platform.MessageMeta{Seq: id, Rand: id},
			FriendID:    userID,
			EventTime:   evt.Time,
		}
	case "friend_add":
		return &platform.NewFriend{UserID: userID, Nickname: evt.Nickname, Time: evt.Time}
	case "friend_decrease":
		return &platform.FriendDeleted{UserID: userID, Time: evt.Time}
	case "group_admin":
		return &platform.MemberPermissionChanged{GroupID: groupID, UserID: userID, NewAdmin: evt.SubType == "set", Time: evt.Time}
	case "group_name_change":
		return &platform.GroupNameUpdated{GroupID: groupID, NewName: evt.NameNew, OperatorID: operatorID, Time: evt.Time}
	case "notify":
		switch evt.SubType {
		case "poke":
			senderID := userID
			if senderID == 0 {
				senderID = rawInt(evt.SenderID)
			}
			target := rawInt(evt.TargetID)
			if groupID != 0 {
				return &platform.GroupPoke{GroupID: groupID, SenderID: senderID, ReceiverID: target, Time: evt.Time}
			}
			return &platform.FriendPoke{SenderID: senderID, ReceiverID: target, Time: evt.Time}
		case "group_name":
			op := operatorID
			if op == 0 {
				op = userID
			}
			return &platform.GroupNameUpdated{GroupID: groupID, NewName: evt.NameNew, OperatorID: op, Time: evt.Time}
		}
	}
	c.log.Debugf("忽略通知 %s/%s", evt.NoticeType, evt.SubType)
	return nil
}

func (c *Client) convertRequest(evt *requestEvent) platform.Event {
	switch evt.RequestType {
	case "friend":
		return &platform.NewFriendRequest{
			Flag:    evt.Flag,
			UserID:  rawInt(evt.UserID),
			Message: evt.Comment,
			Time:    evt.Time,
		}
	case "group":
		if evt.SubType == "invite" {
			inviter := rawInt(evt.UserID)
			if inviter == 0 {
				inviter = rawInt(evt.InvitorID)
			}
			return &platform.GroupInvitedRequest{
				Flag:      evt.Flag,
				GroupID:   rawInt(evt.GroupID),
				InviterID: inviter,
				Time:      evt.Time,
			}
		}
		return &platform.GroupJoinRequest{
			Flag:    evt.Flag,
			GroupID: rawInt(evt.GroupID),
			UserID:  rawInt(evt.UserID),
			Message: evt.Comment,
			Time:    evt.Time,
		}
	}
	c.log.Debugf("忽略请求 %s/%s", evt.RequestType, evt.SubType)
	return nil
}
