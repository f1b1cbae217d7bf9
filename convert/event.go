package convert

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/types"
)

// Normalizer 将协议端事件转换为 OneBot v12 事件，消息事件会被持久化
type Normalizer struct {
	tr  *Translator
	db  *database.DB
	log *zap.SugaredLogger
}

func NewNormalizer(tr *Translator, db *database.DB) *Normalizer {
	return &Normalizer{tr: tr, db: db, log: zap.S().Named("convert")}
}

func (n *Normalizer) Translator() *Translator { return n.tr }

// Normalize 转换事件，连接状态类事件没有对应的 OneBot 事件，返回 nil
func (n *Normalizer) Normalize(selfID int64, ev platform.Event) *types.Event {
	v := &visitor{n: n, self: strconv.FormatInt(selfID, 10)}
	ev.Accept(v)
	if v.out == nil {
		return nil
	}
	if msg := v.out.Message(); msg != nil {
		if err := n.db.SaveEvent(v.out); err != nil {
			n.log.Errorf("保存消息 %s 失败: %v", msg.MessageID, err)
		}
	}
	return v.out
}

// Sent 为发送成功的消息构造事件并持久化，使其可被 get_message 查询
func (n *Normalizer) Sent(selfID int64, selfName string, target platform.Target, receipt *platform.Receipt, segs types.Segments) *types.Event {
	self := strconv.FormatInt(selfID, 10)
	content := &types.MessageContent{
		MessageID:  MessageID(target, receipt.Seqs, receipt.Rands, receipt.Time),
		Message:    segs,
		AltMessage: segs.AltMessage(),
		UserID:     self,
		UserName:   selfName,
	}
	switch target.Scene {
	case platform.SceneGroup:
		content.DetailType = types.DetailGroup
		content.GroupID = strconv.FormatInt(target.GroupID, 10)
	case platform.SceneTemp:
		content.DetailType = types.DetailGroupTemp
		content.GroupID = strconv.FormatInt(target.GroupID, 10)
	default:
		content.DetailType = types.DetailPrivate
	}
	ev := newEvent(self, int64(receipt.Time), content)
	if err := n.db.SaveEvent(ev); err != nil {
		n.log.Errorf("保存已发送消息 %s 失败: %v", content.MessageID, err)
	}
	return ev
}

func newEvent(self string, unix int64, content types.Content) *types.Event {
	t := float64(time.Now().UnixNano()) / 1e9
	if unix > 0 {
		t = float64(unix)
	}
	return &types.Event{
		ID:       uuid.NewString(),
		Impl:     types.ImplName,
		Platform: types.PlatformName,
		SelfID:   self,
		Time:     t,
		Content:  content,
	}
}

func itoa(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

type visitor struct {
	n    *Normalizer
	self string
	out  *types.Event
}

var _ platform.Visitor = (*visitor)(nil)

func (v *visitor) emit(unix int64, content types.Content) {
	v.out = newEvent(v.self, unix, content)
}

func (v *visitor) VisitLoginSuccess(e *platform.LoginSuccess) {
	v.n.log.Infof("账号 %d 登录成功", e.Uin)
}

func (v *visitor) VisitConnected(*platform.Connected) {
	v.n.log.Debugf("账号 %s 已连接", v.self)
}

func (v *visitor) VisitDisconnected(e *platform.Disconnected) {
	v.n.log.Warnf("账号 %s 连接断开: %s", v.self, e.Reason)
}

func (v *visitor) VisitForcedOffline(e *platform.ForcedOffline) {
	v.n.log.Errorf("账号 %s 被强制下线: %s", v.self, e.Reason)
}

func (v *visitor) message(detail string, target platform.Target, meta platform.MessageMeta, senderID int64, senderName string, elems []platform.Element) *types.MessageContent {
	segs := v.n.tr.Inbound(target, elems)
	return &types.MessageContent{
		DetailType: detail,
		MessageID:  MessageID(target, []int32{meta.Seq}, []int32{meta.Rand}, meta.Time),
		Message:    segs,
		AltMessage: segs.AltMessage(),
		UserID:     strconv.FormatInt(senderID, 10),
		UserName:   senderName,
	}
}

func (v *visitor) VisitGroupMessage(e *platform.GroupMessage) {
	c := v.message(types.DetailGroup, platform.GroupTarget(e.GroupID), e.MessageMeta, e.SenderID, e.SenderName, e.Elements)
	c.GroupID = strconv.FormatInt(e.GroupID, 10)
	c.GroupName = e.GroupName
	v.emit(int64(e.Time), c)
}

func (v *visitor) VisitPrivateMessage(e *platform.PrivateMessage) {
	c := v.message(types.DetailPrivate, platform.PrivateTarget(e.SenderID), e.MessageMeta, e.SenderID, e.SenderName, e.Elements)
	v.emit(int64(e.Time), c)
}

func (v *visitor) VisitTempMessage(e *platform.TempMessage) {
	c := v.message(types.DetailGroupTemp, platform.TempTarget(e.GroupID, e.SenderID), e.MessageMeta, e.SenderID, e.SenderName, e.Elements)
	c.GroupID = strconv.FormatInt(e.GroupID, 10)
	c.GroupName = e.GroupName
	v.emit(int64(e.Time), c)
}

func (v *visitor) VisitGroupMemberJoined(e *platform.GroupMemberJoined) {
	sub := "join"
	if e.InviterID != 0 {
		sub = "invite"
	}
	v.emit(e.Time, &types.NoticeContent{
		DetailType: types.DetailMemberIncrease,
		SubType:    sub,
		GroupID:    itoa(e.GroupID),
		UserID:     itoa(e.UserID),
		OperatorID: itoa(e.InviterID),
	})
}

func (v *visitor) VisitGroupMemberLeft(e *platform.GroupMemberLeft) {
	sub := "leave"
	if e.OperatorID != 0 {
		sub = "kick"
	}
	v.emit(e.Time, &types.NoticeContent{
		DetailType: types.DetailMemberDecrease,
		SubType:    sub,
		GroupID:    itoa(e.GroupID),
		UserID:     itoa(e.UserID),
		OperatorID: itoa(e.OperatorID),
	})
}

func (v *visitor) VisitGroupMute(e *platform.GroupMute) {
	c := &types.NoticeContent{
		GroupID:    itoa(e.GroupID),
		UserID:     itoa(e.TargetID),
		OperatorID: itoa(e.OperatorID),
		Duration:   int64(e.Duration),
	}
	switch {
	case e.TargetID == 0 && e.Duration == 0:
		c.DetailType = types.DetailWholeUnban
	case e.TargetID == 0:
		c.DetailType = types.DetailWholeBan
	case e.Duration == 0:
		c.DetailType = types.DetailMemberUnban
	default:
		c.DetailType = types.DetailMemberBan
	}
	v.emit(e.Time, c)
}

func (v *visitor) VisitGroupRecall(e *platform.GroupRecall) {
	sub := "delete"
	if e.AuthorID == e.OperatorID {
		sub = "recall"
	}
	target := platform.GroupTarget(e.GroupID)
	v.emit(e.EventTime, &types.NoticeContent{
		DetailType: types.DetailGroupMsgDelete,
		SubType:    sub,
		GroupID:    itoa(e.GroupID),
		UserID:     itoa(e.AuthorID),
		OperatorID: itoa(e.OperatorID),
		MessageID:  MessageID(target, []int32{e.Seq}, []int32{e.Rand}, e.Time),
	})
}

func (v *visitor) VisitFriendRecall(e *platform.FriendRecall) {
	target := platform.PrivateTarget(e.FriendID)
	v.emit(e.EventTime, &types.NoticeContent{
		DetailType: types.DetailPrivMsgDelete,
		UserID:     itoa(e.FriendID),
		MessageID:  MessageID(target, []int32{e.Seq}, []int32{e.Rand}, e.Time),
	})
}

func (v *visitor) VisitGroupPoke(e *platform.GroupPoke) {
	v.emit(e.Time, &types.NoticeContent{
		DetailType: types.DetailGroupPoke,
		GroupID:    itoa(e.GroupID),
		UserID:     itoa(e.ReceiverID),
		OperatorID: itoa(e.SenderID),
	})
}

func (v *visitor) VisitFriendPoke(e *platform.FriendPoke) {
	v.emit(e.Time, &types.NoticeContent{
		DetailType: types.DetailFriendPoke,
		UserID:     itoa(e.ReceiverID),
		OperatorID: itoa(e.SenderID),
	})
}

func (v *visitor) VisitNewFriend(e *platform.NewFriend) {
	v.emit(e.Time, &types.NoticeContent{DetailType: types.DetailFriendIncrease, UserID: itoa(e.UserID)})
}

func (v *visitor) VisitFriendDeleted(e *platform.FriendDeleted) {
	v.emit(e.Time, &types.NoticeContent{DetailType: types.DetailFriendDecrease, UserID: itoa(e.UserID)})
}

func (v *visitor) VisitMemberPermissionChanged(e *platform.MemberPermissionChanged) {
	detail := types.DetailGroupAdminUnset
	if e.NewAdmin {
		detail = types.DetailGroupAdminSet
	}
	v.emit(e.Time, &types.NoticeContent{DetailType: detail, GroupID: itoa(e.GroupID), UserID: itoa(e.UserID)})
}

func (v *visitor) VisitGroupNameUpdated(e *platform.GroupNameUpdated) {
	v.emit(e.Time, &types.NoticeContent{
		DetailType: types.DetailGroupNameUpdate,
		GroupID:    itoa(e.GroupID),
		GroupName:  e.NewName,
		OperatorID: itoa(e.OperatorID),
	})
}

func (v *visitor) VisitNewFriendRequest(e *platform.NewFriendRequest) {
	v.emit(e.Time, &types.RequestContent{
		DetailType: types.DetailNewFriend,
		RequestID:  e.Flag,
		UserID:     itoa(e.UserID),
		UserName:   e.Nickname,
		Message:    e.Message,
		Suspicious: e.Suspicious,
	})
}

func (v *visitor) VisitGroupJoinRequest(e *platform.GroupJoinRequest) {
	v.emit(e.Time, &types.RequestContent{
		DetailType: types.DetailJoinGroup,
		RequestID:  e.Flag,
		UserID:     itoa(e.UserID),
		UserName:   e.Nickname,
		GroupID:    itoa(e.GroupID),
		GroupName:  e.GroupName,
		Message:    e.Message,
		Suspicious: e.Suspicious,
	})
}

func (v *visitor) VisitGroupInvitedRequest(e *platform.GroupInvitedRequest) {
	v.emit(e.Time, &types.RequestContent{
		DetailType: types.DetailGroupInvited,
		RequestID:  e.Flag,
		UserID:     itoa(e.InviterID),
		UserName:   e.InviterNick,
		GroupID:    itoa(e.GroupID),
		GroupName:  e.GroupName,
	})
}
