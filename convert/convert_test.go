package convert

import (
	"context"
	"crypto/md5"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/platform/platformtest"
	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
	"github.com/sealdice/sealbridge/utils"
)

func newFixture(t *testing.T) (*Normalizer, *storage.Media, *database.DB) {
	backend, err := storage.OpenBunt(":memory:")
	require.NoError(t, err)
	kv := storage.NewStore(backend, 1)
	t.Cleanup(func() { _ = kv.Close() })

	media, err := storage.NewMedia(kv, t.TempDir())
	require.NoError(t, err)
	db, err := database.New(kv, 16)
	require.NoError(t, err)
	return NewNormalizer(NewTranslator(media, db), db), media, db
}

func TestMessageID(t *testing.T) {
	as := assert.New(t)
	as.Equal("100 1 2", MessageID(platform.GroupTarget(100), []int32{1}, []int32{2}, 99))
	as.Equal("7 1 2 99", MessageID(platform.PrivateTarget(7), []int32{1}, []int32{2}, 99))
	as.Equal("7 1 2", MessageID(platform.TempTarget(100, 7), []int32{1}, []int32{2}, 0))
}

func TestInboundSegments(t *testing.T) {
	as := assert.New(t)
	n, media, _ := newFixture(t)
	sum := md5.Sum([]byte("img"))

	segs := n.Translator().Inbound(platform.GroupTarget(100), []platform.Element{
		&platform.Text{Content: "hi"},
		&platform.At{Target: 0},
		&platform.At{Target: 42},
		&platform.Face{ID: 14},
		&platform.Image{Scope: platform.ImageGroup, MD5: sum[:], Size: 3, URL: "http://img", Ref: "g-ref"},
		&platform.Reply{Seq: 5, Rand: -6, SenderID: 42},
		&platform.Unsupported{Type: "lightapp"},
	})
	require.Len(t, segs, 6)
	as.Equal(types.SegMentionAll, segs[1].Type)
	as.Equal("42", segs[2].Str("user_id"))
	as.Equal("表情14", segs[3].Str("name"))

	fileID := segs[4].Str("file_id")
	as.Equal(storage.MediaID(sum, 3), fileID)
	obj, err := media.Get(fileID)
	require.NoError(t, err)
	as.Equal("g-ref", obj.GroupRef)
	as.Equal("http://img", obj.URL)

	as.Equal("100 5 -6", segs[5].Str("message_id"))
	as.Equal("42", segs[5].Str("user_id"))
}

func TestInboundForwardDepth(t *testing.T) {
	n, _, _ := newFixture(t)

	var inner platform.Element = &platform.Text{Content: "bottom"}
	for i := 0; i < types.MaxForwardDepth+5; i++ {
		inner = &platform.Forward{Nodes: []*platform.ForwardNode{{SenderID: 1, Elements: []platform.Element{inner}}}}
	}
	segs := n.Translator().Inbound(platform.PrivateTarget(1), []platform.Element{inner})

	depth := 0
	for len(segs) == 1 && segs[0].Type == types.SegNode {
		depth++
		segs = segs[0].Children()
	}
	assert.Equal(t, types.MaxForwardDepth, depth)
}

func TestOutboundPlaceholderAndReply(t *testing.T) {
	as := assert.New(t)
	n, _, _ := newFixture(t)
	client := platformtest.New(1)

	elems, err := n.Translator().Outbound(context.Background(), client, platform.GroupTarget(100), types.Segments{
		types.TextSegment("a"),
		{Type: "location", Data: map[string]any{}},
		types.ReplySegment("100 5 6", "42"),
		types.MentionSegment("9"),
	})
	require.NoError(t, err)
	require.Len(t, elems, 4)
	as.Equal(&platform.Text{Content: "[location]"}, elems[1])
	as.Equal(&platform.Reply{Seq: 5, Rand: 6, SenderID: 42, GroupID: 100}, elems[2])
	as.EqualValues(9, elems[3].(*platform.At).Target)

	_, err = n.Translator().Outbound(context.Background(), client, platform.GroupTarget(100), types.Segments{types.ReplySegment("bad", "")})
	as.ErrorIs(err, types.ErrBadParam)

	_, err = n.Translator().Outbound(context.Background(), client, platform.GroupTarget(100), types.Segments{types.ImageSegment("00", "", false)})
	as.ErrorIs(err, &types.RespError{Code: types.CodeImageNotExist})
}

func TestOutboundImageUpload(t *testing.T) {
	as := assert.New(t)
	n, media, _ := newFixture(t)
	client := platformtest.New(1)
	ctx := context.Background()

	obj, err := media.SaveData(storage.KindImage, "a.png", []byte("pngdata"))
	require.NoError(t, err)

	elems, err := n.Translator().Outbound(ctx, client, platform.GroupTarget(100), types.Segments{types.ImageSegment(obj.ID, "", false)})
	require.NoError(t, err)
	img := elems[0].(*platform.Image)
	as.Equal(platform.ImageGroup, img.Scope)
	as.Len(client.CallsOf("UploadImage"), 1)

	// 群聊引用已记录，再次发送不会重复上传
	stored, err := media.Get(obj.ID)
	require.NoError(t, err)
	as.Equal(img.Ref, stored.GroupRef)
	_, err = n.Translator().Outbound(ctx, client, platform.GroupTarget(100), types.Segments{types.ImageSegment(obj.ID, "", false)})
	require.NoError(t, err)
	as.Len(client.CallsOf("UploadImage"), 1)

	// 私聊需要另一份引用
	_, err = n.Translator().Outbound(ctx, client, platform.PrivateTarget(5), types.Segments{types.ImageSegment(obj.ID, "", false)})
	require.NoError(t, err)
	as.Len(client.CallsOf("UploadImage"), 2)
}

// unsupportedUpload 不支持上传的协议端
type unsupportedUpload struct{ platform.Media }

func (unsupportedUpload) UploadImage(context.Context, platform.Target, []byte) (*platform.Image, error) {
	return nil, platform.ErrUnsupported
}

func TestOutboundImageFetchFallback(t *testing.T) {
	as := assert.New(t)
	n, media, _ := newFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	sum := md5.Sum([]byte("remote"))
	obj, err := media.Upsert(&storage.MediaObject{ID: storage.MediaID(sum, 6), Kind: storage.KindImage, URL: srv.URL})
	require.NoError(t, err)

	elems, err := n.Translator().Outbound(context.Background(), unsupportedUpload{}, platform.GroupTarget(1), types.Segments{types.ImageSegment(obj.ID, "", true)})
	require.NoError(t, err)
	img := elems[0].(*platform.Image)
	as.Equal(platform.ImageLocal, img.Scope)
	as.Equal([]byte("remote"), img.Data)
	as.True(img.Flash)

	cached, err := media.Get(obj.ID)
	require.NoError(t, err)
	as.NotEmpty(cached.Path)
}

func TestOutboundNodes(t *testing.T) {
	as := assert.New(t)
	n, _, _ := newFixture(t)
	client := platformtest.New(1)
	ctx := context.Background()

	inner := types.Segments{types.NodeSegment("2", "b", 0, types.Segments{types.TextSegment("deep")})}
	nodes, err := n.Translator().OutboundNodes(ctx, client, platform.GroupTarget(1), types.Segments{
		types.NodeSegment("1", "a", 10, types.Segments{types.TextSegment("x")}),
		types.NodeSegment("3", "c", 0, inner),
	})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	as.EqualValues(10, nodes[0].Time)
	fwd, ok := nodes[1].Elements[0].(*platform.Forward)
	require.True(t, ok)
	as.EqualValues(2, fwd.Nodes[0].SenderID)

	deep := types.Segments{types.TextSegment("bottom")}
	for i := 0; i <= types.MaxForwardDepth; i++ {
		deep = types.Segments{types.NodeSegment("1", "a", 0, deep)}
	}
	_, err = n.Translator().OutboundNodes(ctx, client, platform.GroupTarget(1), deep)
	as.ErrorIs(err, types.ErrBadParam)
}

func TestNormalizeGroupMessage(t *testing.T) {
	as := assert.New(t)
	n, _, db := newFixture(t)

	ev := n.Normalize(10001, &platform.GroupMessage{
		MessageMeta: platform.MessageMeta{Seq: 11, Rand: 22, Time: 1700000000},
		GroupID:     100,
		GroupName:   "g",
		SenderID:    42,
		SenderName:  "alice",
		Elements:    []platform.Element{&platform.Text{Content: "hello"}},
	})
	require.NotNil(t, ev)
	as.Equal("10001", ev.SelfID)
	as.NotEmpty(ev.ID)
	as.EqualValues(1700000000, ev.Time)

	msg := ev.Message()
	as.Equal(types.DetailGroup, msg.DetailType)
	as.Equal("100 11 22", msg.MessageID)
	as.Equal("hello", msg.AltMessage)
	as.Equal("100", msg.GroupID)

	stored, err := db.GetEvent("100 11 22")
	require.NoError(t, err)
	as.Equal(ev.ID, stored.ID)

	again := n.Normalize(10001, &platform.GroupMessage{GroupID: 100, MessageMeta: platform.MessageMeta{Seq: 12, Rand: 1}})
	as.NotEqual(ev.ID, again.ID)

	id, err := utils.DecodeMessageID(msg.MessageID)
	require.NoError(t, err)
	as.EqualValues(100, id.Target)
}

func TestNormalizeBranches(t *testing.T) {
	as := assert.New(t)
	n, _, _ := newFixture(t)

	notice := func(e platform.Event) *types.NoticeContent {
		ev := n.Normalize(1, e)
		require.NotNil(t, ev)
		c, ok := ev.Content.(*types.NoticeContent)
		require.True(t, ok)
		return c
	}

	as.Equal("kick", notice(&platform.GroupMemberLeft{GroupID: 1, UserID: 2, OperatorID: 3}).SubType)
	as.Equal("leave", notice(&platform.GroupMemberLeft{GroupID: 1, UserID: 2}).SubType)
	as.Equal("invite", notice(&platform.GroupMemberJoined{GroupID: 1, UserID: 2, InviterID: 3}).SubType)
	as.Equal("join", notice(&platform.GroupMemberJoined{GroupID: 1, UserID: 2}).SubType)

	as.Equal("recall", notice(&platform.GroupRecall{GroupID: 1, AuthorID: 2, OperatorID: 2}).SubType)
	del := notice(&platform.GroupRecall{MessageMeta: platform.MessageMeta{Seq: 3, Rand: 4}, GroupID: 1, AuthorID: 2, OperatorID: 5})
	as.Equal("delete", del.SubType)
	as.Equal("1 3 4", del.MessageID)

	as.Equal(types.DetailMemberBan, notice(&platform.GroupMute{GroupID: 1, TargetID: 2, Duration: 60}).DetailType)
	as.Equal(types.DetailMemberUnban, notice(&platform.GroupMute{GroupID: 1, TargetID: 2}).DetailType)
	as.Equal(types.DetailWholeBan, notice(&platform.GroupMute{GroupID: 1, Duration: -1}).DetailType)
	as.Equal(types.DetailWholeUnban, notice(&platform.GroupMute{GroupID: 1}).DetailType)

	as.Equal(types.DetailGroupAdminSet, notice(&platform.MemberPermissionChanged{GroupID: 1, UserID: 2, NewAdmin: true}).DetailType)
	as.Equal(types.DetailGroupAdminUnset, notice(&platform.MemberPermissionChanged{GroupID: 1, UserID: 2}).DetailType)

	req := n.Normalize(1, &platform.GroupInvitedRequest{Flag: "f", GroupID: 5, InviterID: 6}).Content.(*types.RequestContent)
	as.Equal(types.DetailGroupInvited, req.DetailType)
	as.Equal("f", req.RequestID)

	as.Nil(n.Normalize(1, &platform.LoginSuccess{Uin: 1}))
	as.Nil(n.Normalize(1, &platform.Disconnected{Reason: "x"}))
}

func TestSentPersisted(t *testing.T) {
	as := assert.New(t)
	n, _, db := newFixture(t)

	ev := n.Sent(1, "bot", platform.PrivateTarget(42), &platform.Receipt{Seqs: []int32{1, 2}, Rands: []int32{3, 4}, Time: 50}, types.Segments{types.TextSegment("x")})
	as.Equal("42 1-2 3-4 50", ev.Message().MessageID)
	as.Equal(types.DetailPrivate, ev.Message().DetailType)

	_, err := db.GetEvent("42 1-2 3-4 50")
	as.NoError(err)
}

func TestInboundMediaContentAddressed(t *testing.T) {
	as := assert.New(t)
	n, media, _ := newFixture(t)
	content := []byte("picture-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	first := n.Translator().Inbound(platform.GroupTarget(100), []platform.Element{
		&platform.Image{Scope: platform.ImageGroup, URL: srv.URL + "/a?rkey=1", Ref: "ref-1"},
	})
	second := n.Translator().Inbound(platform.PrivateTarget(42), []platform.Element{
		&platform.Image{Scope: platform.ImageFriend, URL: srv.URL + "/a?rkey=2", Ref: "ref-2"},
	})
	require.Len(t, first, 1)
	require.Len(t, second, 1)

	uploaded, err := media.SaveData(storage.KindImage, "a.png", content)
	require.NoError(t, err)
	as.Equal(uploaded.ID, first[0].Str("file_id"))
	as.Equal(uploaded.ID, second[0].Str("file_id"))

	obj, err := media.Get(uploaded.ID)
	require.NoError(t, err)
	as.EqualValues(len(content), obj.Size)
	as.Equal("ref-1", obj.GroupRef)
	as.Equal("ref-2", obj.FriendRef)
	as.NotEmpty(obj.Path)
}

func TestInboundMediaUnreachable(t *testing.T) {
	n, _, _ := newFixture(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	segs := n.Translator().Inbound(platform.GroupTarget(100), []platform.Element{
		&platform.Image{Scope: platform.ImageGroup, URL: srv.URL + "/gone", Ref: "r"},
	})
	require.Len(t, segs, 1)
	_, size, err := storage.ParseMediaID(segs[0].Str("file_id"))
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestInboundReplyResolvesPrivateID(t *testing.T) {
	as := assert.New(t)
	n, _, db := newFixture(t)

	ev := n.Normalize(10001, &platform.PrivateMessage{
		MessageMeta: platform.MessageMeta{Seq: 7, Rand: 7, Time: 1700000000},
		SenderID:    42,
		Elements:    []platform.Element{&platform.Text{Content: "first"}},
	})
	require.NotNil(t, ev)
	as.Equal("42 7 7 1700000000", ev.Message().MessageID)

	segs := n.Translator().Inbound(platform.PrivateTarget(42), []platform.Element{&platform.Reply{Seq: 7, Rand: 7}})
	require.Len(t, segs, 1)
	id := segs[0].Str("message_id")
	as.Equal("42 7 7 1700000000", id)
	_, err := db.GetEvent(id)
	as.NoError(err)

	segs = n.Translator().Inbound(platform.PrivateTarget(42), []platform.Element{&platform.Reply{Seq: 8, Rand: 8}})
	as.Equal("42 8 8", segs[0].Str("message_id"))
}

func TestFetchTooLarge(t *testing.T) {
	n, _, _ := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, MaxFetchSize+10))
	}))
	defer srv.Close()

	_, err := n.Translator().Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)

	small := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, MaxFetchSize))
	}))
	defer small.Close()
	data, err := n.Translator().Fetch(context.Background(), small.URL)
	require.NoError(t, err)
	assert.Len(t, data, MaxFetchSize)
}
