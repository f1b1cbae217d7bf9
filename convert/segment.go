// Package convert 在协议端消息元素/事件与 OneBot v12 消息段/事件之间转换
package convert

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
	"github.com/sealdice/sealbridge/utils"
)

const (
	// MaxFetchSize 下载远程媒体的大小上限
	MaxFetchSize = 32 << 20
	// 收到消息时下载媒体计算ID的超时
	receiveFetchTimeout = 10 * time.Second
)

// ErrTooLarge 远程文件超过 MaxFetchSize
var ErrTooLarge = errors.New("remote file too large")

// MessageID 编码消息ID，私聊与临时会话附带发送时间
func MessageID(target platform.Target, seqs, rands []int32, t int32) string {
	if target.Scene == platform.SceneGroup || t == 0 {
		return utils.EncodeMessageID(target.Peer(), seqs, rands, nil)
	}
	return utils.EncodeMessageID(target.Peer(), seqs, rands, &t)
}

// Translator 消息元素与消息段的双向转换
type Translator struct {
	media  *storage.Media
	db     *database.DB
	client *http.Client
	log    *zap.SugaredLogger
}

func NewTranslator(media *storage.Media, db *database.DB) *Translator {
	return &Translator{
		media:  media,
		db:     db,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    zap.S().Named("convert"),
	}
}

// Inbound 转换收到的消息元素，target 为消息所在会话。
// 无法表示的元素会被丢弃
func (t *Translator) Inbound(target platform.Target, elems []platform.Element) types.Segments {
	return t.inbound(target, elems, 0)
}

func (t *Translator) inbound(target platform.Target, elems []platform.Element, depth int) types.Segments {
	segs := make(types.Segments, 0, len(elems))
	for _, elem := range elems {
		switch e := elem.(type) {
		case *platform.Text:
			segs = append(segs, types.TextSegment(e.Content))
		case *platform.At:
			if e.Target == 0 {
				segs = append(segs, types.MentionAllSegment())
				continue
			}
			segs = append(segs, types.MentionSegment(strconv.FormatInt(e.Target, 10)))
		case *platform.Face:
			segs = append(segs, types.FaceSegment(e.ID, faceName(e)))
		case *platform.Image:
			obj := t.register(target, storage.KindImage, e.MD5, e.Size, e.Ref, e.URL)
			segs = append(segs, types.ImageSegment(obj.ID, e.URL, e.Flash))
		case *platform.Voice:
			obj := t.register(target, storage.KindVoice, e.MD5, e.Size, e.Ref, e.URL)
			segs = append(segs, types.VoiceSegment(obj.ID))
		case *platform.Reply:
			id := MessageID(target, []int32{e.Seq}, []int32{e.Rand}, e.Time)
			if e.Time == 0 && target.Scene != platform.SceneGroup {
				id = t.db.Resolve(id)
			}
			var userID string
			if e.SenderID != 0 {
				userID = strconv.FormatInt(e.SenderID, 10)
			}
			segs = append(segs, types.ReplySegment(id, userID))
		case *platform.Forward:
			if depth >= types.MaxForwardDepth {
				t.log.Warnf("合并转发嵌套超过 %d 层，已截断", types.MaxForwardDepth)
				continue
			}
			for _, n := range e.Nodes {
				children := t.inbound(target, n.Elements, depth+1)
				segs = append(segs, types.NodeSegment(strconv.FormatInt(n.SenderID, 10), n.SenderName, int64(n.Time), children))
			}
		default:
			t.log.Debugf("丢弃不支持的消息元素 %s", elem.Kind())
		}
	}
	return segs
}

func faceName(f *platform.Face) string {
	if f.Name != "" {
		return f.Name
	}
	return "表情" + strconv.FormatInt(int64(f.ID), 10)
}

// register 登记收到的媒体，返回合并后的记录
func (t *Translator) register(target platform.Target, kind storage.MediaKind, sum []byte, size uint32, ref, url string) *storage.MediaObject {
	id, data := t.contentID(sum, size, ref, url)
	if data != nil {
		if _, err := t.media.SaveData(kind, "", data); err != nil {
			t.log.Warnf("缓存媒体 %s 失败: %v", id, err)
		}
	}
	obj := &storage.MediaObject{ID: id, Kind: kind, URL: url}
	if target.Scene == platform.SceneGroup {
		obj.GroupRef = ref
	} else {
		obj.FriendRef = ref
	}
	merged, err := t.media.Upsert(obj)
	if err != nil {
		t.log.Warnf("登记媒体 %s 失败: %v", obj.ID, err)
		return obj
	}
	return merged
}

// contentID 协议端没有给出内容摘要和长度时下载内容计算ID。
// 下载失败时退回由来源计算的临时ID，长度记为 0
func (t *Translator) contentID(sum []byte, size uint32, ref, url string) (string, []byte) {
	var digest [md5.Size]byte
	if len(sum) == md5.Size && size > 0 {
		copy(digest[:], sum)
		return storage.MediaID(digest, size), nil
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		ctx, cancel := context.WithTimeout(context.Background(), receiveFetchTimeout)
		defer cancel()
		data, err := t.Fetch(ctx, url)
		if err == nil {
			return storage.MediaIDOf(data), data
		}
		t.log.Warnf("下载媒体失败，使用临时ID: %v", err)
	}
	if len(sum) == md5.Size {
		copy(digest[:], sum)
	} else {
		digest = md5.Sum([]byte(ref + url))
	}
	return storage.MediaID(digest, size), nil
}

// Outbound 转换待发送的消息段。
// 不支持的段以 "[类型]" 文本代替
func (t *Translator) Outbound(ctx context.Context, up platform.Media, target platform.Target, segs types.Segments) ([]platform.Element, error) {
	elems := make([]platform.Element, 0, len(segs))
	for _, seg := range segs {
		switch seg.Type {
		case types.SegText:
			elems = append(elems, &platform.Text{Content: seg.Str("text")})
		case types.SegMention:
			uid, err := strconv.ParseInt(seg.Str("user_id"), 10, 64)
			if err != nil {
				return nil, types.BadParam("mention: invalid user_id %q", seg.Str("user_id"))
			}
			elems = append(elems, &platform.At{Target: uid})
		case types.SegMentionAll:
			elems = append(elems, &platform.At{Target: 0, Display: "@全体成员"})
		case types.SegFace:
			id, ok := seg.Int("id")
			if !ok {
				return nil, types.BadParam("face: invalid id")
			}
			elems = append(elems, &platform.Face{ID: int32(id), Name: seg.Str("name")})
		case types.SegImage:
			img, err := t.resolveImage(ctx, up, target, seg.Str("file_id"), seg.Bool("flash"))
			if err != nil {
				return nil, err
			}
			elems = append(elems, img)
		case types.SegVoice:
			v, err := t.resolveVoice(ctx, up, target, seg.Str("file_id"))
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		case types.SegReply:
			r, err := t.reply(target, seg)
			if err != nil {
				return nil, err
			}
			elems = append(elems, r)
		default:
			elems = append(elems, &platform.Text{Content: "[" + seg.Type + "]"})
		}
	}
	return elems, nil
}

// OutboundNodes 转换合并转发节点，嵌套的 node 段成为内层转发
func (t *Translator) OutboundNodes(ctx context.Context, up platform.Media, target platform.Target, segs types.Segments) ([]*platform.ForwardNode, error) {
	return t.outboundNodes(ctx, up, target, segs, 1)
}

func (t *Translator) outboundNodes(ctx context.Context, up platform.Media, target platform.Target, segs types.Segments, depth int) ([]*platform.ForwardNode, error) {
	if depth > types.MaxForwardDepth {
		return nil, types.BadParam("forward nesting deeper than %d", types.MaxForwardDepth)
	}
	nodes := make([]*platform.ForwardNode, 0, len(segs))
	for _, seg := range segs {
		if seg.Type != types.SegNode {
			return nil, types.BadParam("forward message contains %s segment", seg.Type)
		}
		uid, _ := seg.Int("user_id")
		ts, _ := seg.Int("time")
		node := &platform.ForwardNode{SenderID: uid, SenderName: seg.Str("user_name"), Time: int32(ts)}

		children := seg.Children()
		if children.AllNodes() {
			inner, err := t.outboundNodes(ctx, up, target, children, depth+1)
			if err != nil {
				return nil, err
			}
			node.Elements = []platform.Element{&platform.Forward{Nodes: inner}}
		} else {
			elems, err := t.Outbound(ctx, up, target, children)
			if err != nil {
				return nil, err
			}
			node.Elements = elems
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (t *Translator) reply(target platform.Target, seg types.Segment) (*platform.Reply, error) {
	mid := seg.Str("message_id")
	id, err := utils.DecodeMessageID(mid)
	if err != nil {
		return nil, types.BadParam("reply: %v", err)
	}
	r := &platform.Reply{Seq: id.Seqs[0], Rand: id.Rands[0]}
	if id.Time != nil {
		r.Time = *id.Time
	}
	if target.Scene == platform.SceneGroup {
		r.GroupID = id.Target
	}
	if uid, ok := seg.Int("user_id"); ok {
		r.SenderID = uid
	} else if ev, err := t.db.GetEvent(mid); err == nil {
		if m := ev.Message(); m != nil {
			r.SenderID, _ = strconv.ParseInt(m.UserID, 10, 64)
		}
	}
	return r, nil
}

func (t *Translator) lookup(fileID string) (*storage.MediaObject, error) {
	if fileID == "" {
		return nil, types.BadParam("file_id required")
	}
	obj, err := t.media.Get(fileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.ImageNotExist(fileID)
	}
	if err != nil {
		return nil, types.InternalHandler("media lookup: %v", err)
	}
	return obj, nil
}

func sceneRef(target platform.Target, obj *storage.MediaObject) string {
	if target.Scene == platform.SceneGroup {
		return obj.GroupRef
	}
	return obj.FriendRef
}

func imageKind(target platform.Target) platform.ImageKind {
	if target.Scene == platform.SceneGroup {
		return platform.ImageGroup
	}
	return platform.ImageFriend
}

func digestOf(id string) []byte {
	sum, _, err := storage.ParseMediaID(id)
	if err != nil {
		return nil
	}
	return sum[:]
}

func (t *Translator) resolveImage(ctx context.Context, up platform.Media, target platform.Target, fileID string, flash bool) (*platform.Image, error) {
	obj, err := t.lookup(fileID)
	if err != nil {
		return nil, err
	}
	if ref := sceneRef(target, obj); ref != "" {
		return &platform.Image{Scope: imageKind(target), MD5: digestOf(obj.ID), Size: obj.Size, URL: obj.URL, Flash: flash, Ref: ref}, nil
	}

	data, err := t.Data(ctx, obj)
	if err != nil {
		return nil, types.ImageUnuploaded("image %s: %v", fileID, err)
	}
	img, err := up.UploadImage(ctx, target, data)
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		return &platform.Image{Scope: platform.ImageLocal, MD5: digestOf(obj.ID), Size: obj.Size, URL: obj.URL, Flash: flash, Data: data}, nil
	case err != nil:
		return nil, types.ImageUnuploaded("upload image %s: %v", fileID, err)
	}
	t.remember(target, obj, img.Ref)
	img.Flash = flash
	return img, nil
}

func (t *Translator) resolveVoice(ctx context.Context, up platform.Media, target platform.Target, fileID string) (*platform.Voice, error) {
	obj, err := t.lookup(fileID)
	if err != nil {
		return nil, err
	}
	if ref := sceneRef(target, obj); ref != "" {
		return &platform.Voice{MD5: digestOf(obj.ID), Size: obj.Size, URL: obj.URL, Ref: ref}, nil
	}

	data, err := t.Data(ctx, obj)
	if err != nil {
		return nil, types.ImageUnuploaded("voice %s: %v", fileID, err)
	}
	v, err := up.UploadVoice(ctx, target, data)
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		return &platform.Voice{MD5: digestOf(obj.ID), Size: obj.Size, URL: obj.URL, Data: data}, nil
	case err != nil:
		return nil, types.ImageUnuploaded("upload voice %s: %v", fileID, err)
	}
	t.remember(target, obj, v.Ref)
	return v, nil
}

// remember 将上传得到的引用合并进记录
func (t *Translator) remember(target platform.Target, obj *storage.MediaObject, ref string) {
	if ref == "" {
		return
	}
	upd := &storage.MediaObject{ID: obj.ID}
	if target.Scene == platform.SceneGroup {
		upd.GroupRef = ref
	} else {
		upd.FriendRef = ref
	}
	if _, err := t.media.Upsert(upd); err != nil {
		t.log.Warnf("更新媒体 %s 失败: %v", obj.ID, err)
	}
}

// Data 读取媒体内容，本地没有缓存时从 URL 下载并缓存
func (t *Translator) Data(ctx context.Context, obj *storage.MediaObject) ([]byte, error) {
	if obj.Path != "" {
		if data, err := t.media.ReadData(obj); err == nil {
			return data, nil
		}
	}
	if obj.URL == "" {
		return nil, errors.New("no local data or url")
	}
	data, err := t.Fetch(ctx, obj.URL)
	if err != nil {
		return nil, err
	}
	if _, err := t.media.AttachData(obj.ID, data); err != nil {
		t.log.Warnf("缓存媒体失败: %v", err)
	}
	return data, nil
}

// Fetch 下载远程文件
func (t *Translator) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFetchSize {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrTooLarge)
	}
	return data, nil
}
