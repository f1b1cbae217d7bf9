package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// 消息段类型
const (
	SegText       = "text"
	SegMention    = "mention"
	SegMentionAll = "mention_all"
	SegFace       = "face"
	SegImage      = "image"
	SegVoice      = "voice"
	SegReply      = "reply"
	SegNode       = "node"
)

// MaxForwardDepth 合并转发允许的最大嵌套层数
const MaxForwardDepth = 32

// Segment OneBot v12 消息段
//
// node 段的 Data["message"] 总是 Segments，解析时会被还原
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type Segments []Segment

func TextSegment(text string) Segment {
	return Segment{Type: SegText, Data: map[string]any{"text": text}}
}

func MentionSegment(userID string) Segment {
	return Segment{Type: SegMention, Data: map[string]any{"user_id": userID}}
}

func MentionAllSegment() Segment {
	return Segment{Type: SegMentionAll, Data: map[string]any{}}
}

func FaceSegment(id int32, name string) Segment {
	return Segment{Type: SegFace, Data: map[string]any{"id": strconv.FormatInt(int64(id), 10), "name": name}}
}

func ImageSegment(fileID, url string, flash bool) Segment {
	return Segment{Type: SegImage, Data: map[string]any{"file_id": fileID, "url": url, "flash": flash}}
}

func VoiceSegment(fileID string) Segment {
	return Segment{Type: SegVoice, Data: map[string]any{"file_id": fileID}}
}

func ReplySegment(messageID, userID string) Segment {
	return Segment{Type: SegReply, Data: map[string]any{"message_id": messageID, "user_id": userID}}
}

// NodeSegment 合并转发节点，time 为秒级时间戳
func NodeSegment(userID, userName string, t int64, message Segments) Segment {
	return Segment{Type: SegNode, Data: map[string]any{
		"user_id":   userID,
		"user_name": userName,
		"time":      t,
		"message":   message,
	}}
}

// Str 读取字符串字段，数字会被格式化
func (s Segment) Str(key string) string {
	switch v := s.Data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int 读取整数字段，字符串形式的数字同样接受
func (s Segment) Int(key string) (int64, bool) {
	switch v := s.Data[key].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (s Segment) Bool(key string) bool {
	b, _ := s.Data[key].(bool)
	return b
}

// Children node 段内嵌的消息
func (s Segment) Children() Segments {
	c, _ := s.Data["message"].(Segments)
	return c
}

// AllNodes 是否全部为 node 段（空消息返回 false）
func (ss Segments) AllNodes() bool {
	if len(ss) == 0 {
		return false
	}
	for _, s := range ss {
		if s.Type != SegNode {
			return false
		}
	}
	return true
}

func (ss Segments) Has(typ string) bool {
	for _, s := range ss {
		if s.Type == typ {
			return true
		}
	}
	return false
}

// AltMessage 消息的纯文本表示
func (ss Segments) AltMessage() string {
	var b strings.Builder
	for _, s := range ss {
		switch s.Type {
		case SegText:
			b.WriteString(s.Str("text"))
		case SegMention:
			b.WriteString("@" + s.Str("user_id"))
		case SegMentionAll:
			b.WriteString("@全体成员")
		case SegFace:
			b.WriteString("[表情:" + s.Str("name") + "]")
		case SegImage:
			b.WriteString("[图片]")
		case SegVoice:
			b.WriteString("[语音]")
		case SegReply:
			// 回复不计入文本
		case SegNode:
			b.WriteString("[合并转发]")
		default:
			b.WriteString("[" + s.Type + "]")
		}
	}
	return b.String()
}

// UnmarshalJSON 还原嵌套的 node 段
func (ss *Segments) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid segments json")
	}
	r := gjson.ParseBytes(data)
	if r.Type == gjson.Null {
		*ss = nil
		return nil
	}
	out, err := ParseSegments(r)
	if err != nil {
		return err
	}
	*ss = out
	return nil
}

// ParseSegments 从 JSON 中解析消息段，字符串视为单个文本段。
// node 段的嵌套超过 MaxForwardDepth 时返回 BadParam
func ParseSegments(r gjson.Result) (Segments, error) {
	return parseSegments(r, 0)
}

func parseSegments(r gjson.Result, depth int) (Segments, error) {
	if depth > MaxForwardDepth {
		return nil, BadParam("forward nesting deeper than %d", MaxForwardDepth)
	}
	switch {
	case r.Type == gjson.String:
		return Segments{TextSegment(r.Str)}, nil
	case r.IsObject():
		seg, err := parseSegment(r, depth)
		if err != nil {
			return nil, err
		}
		return Segments{seg}, nil
	case r.IsArray():
	default:
		return nil, BadParam("message must be an array of segments")
	}

	var (
		out Segments
		err error
	)
	r.ForEach(func(_, v gjson.Result) bool {
		var seg Segment
		seg, err = parseSegment(v, depth)
		if err != nil {
			return false
		}
		out = append(out, seg)
		return true
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = Segments{}
	}
	return out, nil
}

func parseSegment(v gjson.Result, depth int) (Segment, error) {
	if !v.IsObject() {
		return Segment{}, BadParam("segment must be an object")
	}
	typ := v.Get("type").String()
	if typ == "" {
		return Segment{}, BadParam("segment type missing")
	}
	seg := Segment{Type: typ, Data: map[string]any{}}
	data := v.Get("data")
	if data.IsObject() {
		if m, ok := data.Value().(map[string]any); ok {
			seg.Data = m
		}
	}
	if typ == SegNode {
		children, err := parseSegments(data.Get("message"), depth+1)
		if err != nil {
			return Segment{}, err
		}
		seg.Data["message"] = children
	}
	return seg, nil
}

// MarshalJSON 空消息输出 [] 而非 null
func (ss Segments) MarshalJSON() ([]byte, error) {
	if ss == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Segment(ss))
}
