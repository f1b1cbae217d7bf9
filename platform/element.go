package platform

// Element 协议端消息元素
type Element interface {
	Kind() string
}

type ImageKind int

const (
	// ImageLocal 仅有本地数据，尚未上传
	ImageLocal ImageKind = iota
	ImageFriend
	ImageGroup
)

type Text struct {
	Content string
}

// At Target 为 0 表示 @全体成员
type At struct {
	Target  int64
	Display string
}

type Face struct {
	ID   int32
	Name string
}

type Image struct {
	Scope ImageKind
	MD5   []byte
	Size  uint32
	URL   string
	Flash bool
	// Ref 协议端的不透明引用，可直接用于发送
	Ref  string
	Data []byte
}

type Voice struct {
	MD5  []byte
	Size uint32
	URL  string
	Ref  string
	Data []byte
}

type Reply struct {
	Seq      int32
	Rand     int32
	SenderID int64
	Time     int32
	// 群号；私聊为 0
	GroupID int64
}

type ForwardNode struct {
	SenderID   int64
	SenderName string
	Time       int32
	Elements   []Element
}

type Forward struct {
	Nodes []*ForwardNode
}

// Unsupported 无法识别的元素，如小程序、卡片等
type Unsupported struct {
	Type string
}

func (*Text) Kind() string          { return "text" }
func (*At) Kind() string            { return "at" }
func (*Face) Kind() string          { return "face" }
func (*Image) Kind() string         { return "image" }
func (*Voice) Kind() string         { return "voice" }
func (*Reply) Kind() string         { return "reply" }
func (*Forward) Kind() string       { return "forward" }
func (e *Unsupported) Kind() string { return e.Type }
