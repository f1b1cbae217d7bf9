package ob11

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sealdice/sealbridge/platform"
)

// 合并转发的最大嵌套层数
const maxForwardDepth = 32

type segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func anyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	}
	return ""
}

func anyInt64(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n
	case json.Number:
		n, _ := x.Int64()
		return n
	}
	return 0
}

// mediaDigest 协议实现通常以内容 md5 命名文件，取不到时返回 nil
func mediaDigest(file string) []byte {
	name := file
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	if len(name) >= 32 {
		if sum, err := hex.DecodeString(name[:32]); err == nil {
			return sum
		}
	}
	return nil
}

func (c *Client) fromSegments(scene platform.Scene, src []segment) []platform.Element {
	return fromSegmentsDepth(scene, src, 0)
}

func fromSegmentsDepth(scene platform.Scene, src []segment, depth int) []platform.Element {
	var result []platform.Element
	for _, seg := range src {
		switch seg.Type {
		case "text":
			if text, ok := seg.Data["text"].(string); ok {
				result = append(result, &platform.Text{Content: text})
			}
		case "at":
			qq := anyString(seg.Data["qq"])
			if qq == "all" {
				result = append(result, &platform.At{Target: 0, Display: "@全体成员"})
				continue
			}
			result = append(result, &platform.At{Target: anyInt64(seg.Data["qq"]), Display: anyString(seg.Data["name"])})
		case "face":
			result = append(result, &platform.Face{ID: int32(anyInt64(seg.Data["id"]))})
		case "image":
			file := anyString(seg.Data["file"])
			url := anyString(seg.Data["url"])
			if url == "" && strings.HasPrefix(file, "http") {
				url = file
			}
			kind := platform.ImageFriend
			if scene == platform.SceneGroup {
				kind = platform.ImageGroup
			}
			result = append(result, &platform.Image{
				Scope: kind,
				MD5:   mediaDigest(file),
				Size:  uint32(anyInt64(seg.Data["file_size"])),
				URL:   url,
				Flash: anyString(seg.Data["type"]) == "flash",
				Ref:   file,
			})
		case "record":
			file := anyString(seg.Data["file"])
			url := anyString(seg.Data["url"])
			result = append(result, &platform.Voice{
				MD5:  mediaDigest(file),
				Size: uint32(anyInt64(seg.Data["file_size"])),
				URL:  url,
				Ref:  file,
			})
		case "reply":
			id := int32(anyInt64(seg.Data["id"]))
			result = append(result, &platform.Reply{Seq: id, Rand: id})
		case "forward":
			content, ok := seg.Data["content"]
			if !ok || depth >= maxForwardDepth {
				result = append(result, &platform.Unsupported{Type: "forward"})
				continue
			}
			raw, err := json.Marshal(content)
			if err != nil {
				continue
			}
			result = append(result, &platform.Forward{Nodes: parseNodes(scene, gjson.ParseBytes(raw), depth+1)})
		default:
			result = append(result, &platform.Unsupported{Type: seg.Type})
		}
	}
	return result
}

// parseNodes 兼容节点段与消息事件两种转发内容格式
func parseNodes(scene platform.Scene, r gjson.Result, depth int) []*platform.ForwardNode {
	var nodes []*platform.ForwardNode
	r.ForEach(func(_, v gjson.Result) bool {
		node := &platform.ForwardNode{}
		var content gjson.Result
		if v.Get("type").String() == "node" {
			d := v.Get("data")
			node.SenderID = d.Get("user_id").Int()
			node.SenderName = d.Get("nickname").String()
			node.Time = int32(d.Get("time").Int())
			content = d.Get("content")
		} else {
			node.SenderID = v.Get("sender.user_id").Int()
			node.SenderName = v.Get("sender.nickname").String()
			node.Time = int32(v.Get("time").Int())
			content = v.Get("message")
		}
		var segs []segment
		if content.Type == gjson.String {
			segs = []segment{{Type: "text", Data: map[string]any{"text": content.Str}}}
		} else if err := json.Unmarshal([]byte(content.Raw), &segs); err != nil {
			segs = nil
		}
		node.Elements = fromSegmentsDepth(scene, segs, depth)
		nodes = append(nodes, node)
		return true
	})
	return nodes
}

func mediaFile(ref string, data []byte, url string) string {
	switch {
	case ref != "":
		return ref
	case len(data) > 0:
		return "base64://" + base64.StdEncoding.EncodeToString(data)
	default:
		return url
	}
}

func (c *Client) toSegments(elems []platform.Element) []segment {
	result := make([]segment, 0, len(elems))
	for _, elem := range elems {
		switch e := elem.(type) {
		case *platform.Text:
			result = append(result, segment{Type: "text", Data: map[string]any{"text": e.Content}})
		case *platform.At:
			qq := "all"
			if e.Target != 0 {
				qq = strconv.FormatInt(e.Target, 10)
			}
			result = append(result, segment{Type: "at", Data: map[string]any{"qq": qq}})
		case *platform.Face:
			result = append(result, segment{Type: "face", Data: map[string]any{"id": strconv.FormatInt(int64(e.ID), 10)}})
		case *platform.Image:
			file := mediaFile(e.Ref, e.Data, e.URL)
			if file == "" {
				c.log.Debug("跳过无来源的图片")
				continue
			}
			data := map[string]any{"file": file}
			if e.Flash {
				data["type"] = "flash"
			}
			result = append(result, segment{Type: "image", Data: data})
		case *platform.Voice:
			file := mediaFile(e.Ref, e.Data, e.URL)
			if file == "" {
				c.log.Debug("跳过无来源的语音")
				continue
			}
			result = append(result, segment{Type: "record", Data: map[string]any{"file": file}})
		case *platform.Reply:
			result = append(result, segment{Type: "reply", Data: map[string]any{"id": strconv.FormatInt(int64(e.Seq), 10)}})
		default:
			c.log.Debugf("不支持发送的元素 %s", elem.Kind())
		}
	}
	return result
}

func (c *Client) toNodes(nodes []*platform.ForwardNode) []segment {
	result := make([]segment, 0, len(nodes))
	for _, n := range nodes {
		var content any
		if len(n.Elements) == 1 {
			if f, ok := n.Elements[0].(*platform.Forward); ok {
				content = c.toNodes(f.Nodes)
			}
		}
		if content == nil {
			content = c.toSegments(n.Elements)
		}
		data := map[string]any{
			"user_id":  strconv.FormatInt(n.SenderID, 10),
			"nickname": n.SenderName,
			"content":  content,
		}
		if n.Time != 0 {
			data["time"] = n.Time
		}
		result = append(result, segment{Type: "node", Data: data})
	}
	return result
}
