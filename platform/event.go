package platform

// Event 协议端事件，只能由本包中的类型实现
//
// 新增事件类型时需在 Visitor 中添加对应方法，所有实现方都会因此无法编译，
// 以此保证每种事件都被处理
type Event interface {
	Accept(v Visitor)
}

type Visitor interface {
	VisitLoginSuccess(e *LoginSuccess)
	VisitConnected(e *Connected)
	VisitDisconnected(e *Disconnected)
	VisitForcedOffline(e *ForcedOffline)

	VisitGroupMessage(e *GroupMessage)
	VisitPrivateMessage(e *PrivateMessage)
	VisitTempMessage(e *TempMessage)

	VisitGroupMemberJoined(e *GroupMemberJoined)
	VisitGroupMemberLeft(e *GroupMemberLeft)
	VisitGroupMute(e *GroupMute)
	VisitGroupRecall(e *GroupRecall)
	VisitFriendRecall(e *FriendRecall)
	VisitGroupPoke(e *GroupPoke)
	VisitFriendPoke(e *FriendPoke)
	VisitNewFriend(e *NewFriend)
	VisitFriendDeleted(e *FriendDeleted)
	VisitMemberPermissionChanged(e *MemberPermissionChanged)
	VisitGroupNameUpdated(e *GroupNameUpdated)

	VisitNewFriendRequest(e *NewFriendRequest)
	VisitGroupJoinRequest(e *GroupJoinRequest)
	VisitGroupInvitedRequest(e *GroupInvitedRequest)
}

// LoginSuccess 账号登录完成
type LoginSuccess struct {
	Uin      int64
	Nickname string
}

type Connected struct{}

type Disconnected struct {
	Reason string
}

// ForcedOffline 账号被服务器踢下线
type ForcedOffline struct {
	Reason string
}

// MessageMeta 消息的序号信息，Time 为发送时间（秒）
type MessageMeta struct {
	Seq  int32
	Rand int32
	Time int32
}

type GroupMessage struct {
	MessageMeta
	GroupID    int64
	GroupName  string
	SenderID   int64
	SenderName string
	SenderRole Role
	Elements   []Element
}

type PrivateMessage struct {
	MessageMeta
	SenderID   int64
	SenderName string
	Elements   []Element
}

type TempMessage struct {
	MessageMeta
	GroupID    int64
	GroupName  string
	SenderID   int64
	SenderName string
	Elements   []Element
}

type GroupMemberJoined struct {
	GroupID   int64
	UserID    int64
	InviterID int64
	Time      int64
}

// GroupMemberLeft OperatorID 不为 0 时为被踢出
type GroupMemberLeft struct {
	GroupID    int64
	UserID     int64
	OperatorID int64
	Time       int64
}

// GroupMute TargetID 为 0 表示全员禁言，Duration 为 0 表示解除
type GroupMute struct {
	GroupID    int64
	OperatorID int64
	TargetID   int64
	Duration   int32
	Time       int64
}

type GroupRecall struct {
	MessageMeta
	GroupID    int64
	AuthorID   int64
	OperatorID int64
	EventTime  int64
}

type FriendRecall struct {
	MessageMeta
	FriendID  int64
	EventTime int64
}

type GroupPoke struct {
	GroupID    int64
	SenderID   int64
	ReceiverID int64
	Time       int64
}

type FriendPoke struct {
	SenderID   int64
	ReceiverID int64
	Time       int64
}

type NewFriend struct {
	UserID   int64
	Nickname string
	Time     int64
}

type FriendDeleted struct {
	UserID int64
	Time   int64
}

type MemberPermissionChanged struct {
	GroupID  int64
	UserID   int64
	NewAdmin bool
	Time     int64
}

type GroupNameUpdated struct {
	GroupID    int64
	NewName    string
	OperatorID int64
	Time       int64
}

type NewFriendRequest struct {
	Flag       string
	UserID     int64
	Nickname   string
	Message    string
	Suspicious bool
	Time       int64
}

type GroupJoinRequest struct {
	Flag       string
	GroupID    int64
	GroupName  string
	UserID     int64
	Nickname   string
	Message    string
	Suspicious bool
	Time       int64
}

type GroupInvitedRequest struct {
	Flag        string
	GroupID     int64
	GroupName   string
	InviterID   int64
	InviterNick string
	Time        int64
}

func (e *LoginSuccess) Accept(v Visitor)            { v.VisitLoginSuccess(e) }
func (e *Connected) Accept(v Visitor)               { v.VisitConnected(e) }
func (e *Disconnected) Accept(v Visitor)            { v.VisitDisconnected(e) }
func (e *ForcedOffline) Accept(v Visitor)           { v.VisitForcedOffline(e) }
func (e *GroupMessage) Accept(v Visitor)            { v.VisitGroupMessage(e) }
func (e *PrivateMessage) Accept(v Visitor)          { v.VisitPrivateMessage(e) }
func (e *TempMessage) Accept(v Visitor)             { v.VisitTempMessage(e) }
func (e *GroupMemberJoined) Accept(v Visitor)       { v.VisitGroupMemberJoined(e) }
func (e *GroupMemberLeft) Accept(v Visitor)         { v.VisitGroupMemberLeft(e) }
func (e *GroupMute) Accept(v Visitor)               { v.VisitGroupMute(e) }
func (e *GroupRecall) Accept(v Visitor)             { v.VisitGroupRecall(e) }
func (e *FriendRecall) Accept(v Visitor)            { v.VisitFriendRecall(e) }
func (e *GroupPoke) Accept(v Visitor)               { v.VisitGroupPoke(e) }
func (e *FriendPoke) Accept(v Visitor)              { v.VisitFriendPoke(e) }
func (e *NewFriend) Accept(v Visitor)               { v.VisitNewFriend(e) }
func (e *FriendDeleted) Accept(v Visitor)           { v.VisitFriendDeleted(e) }
func (e *MemberPermissionChanged) Accept(v Visitor) { v.VisitMemberPermissionChanged(e) }
func (e *GroupNameUpdated) Accept(v Visitor)        { v.VisitGroupNameUpdated(e) }
func (e *NewFriendRequest) Accept(v Visitor)        { v.VisitNewFriendRequest(e) }
func (e *GroupJoinRequest) Accept(v Visitor)        { v.VisitGroupJoinRequest(e) }
func (e *GroupInvitedRequest) Accept(v Visitor)     { v.VisitGroupInvitedRequest(e) }
