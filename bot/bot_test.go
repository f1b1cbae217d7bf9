package bot

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealdice/sealbridge/convert"
	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/platform/platformtest"
	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
)

func newDeps(t *testing.T) Deps {
	backend, err := storage.OpenBunt(":memory:")
	require.NoError(t, err)
	kv := storage.NewStore(backend, 1)
	t.Cleanup(func() { _ = kv.Close() })

	media, err := storage.NewMedia(kv, t.TempDir())
	require.NoError(t, err)
	db, err := database.New(kv, 16)
	require.NoError(t, err)
	return Deps{
		Normalizer: convert.NewNormalizer(convert.NewTranslator(media, db), db),
		Media:      media,
		DB:         db,
	}
}

func newSession(t *testing.T, opts Options) (*Session, *platformtest.Client) {
	client := platformtest.New(10001)
	client.Groups = []*platform.GroupInfo{
		{ID: 100, Name: "member-group", SelfRole: platform.RoleMember},
		{ID: 200, Name: "admin-group", SelfRole: platform.RoleAdmin},
		{ID: 300, Name: "owner-group", SelfRole: platform.RoleOwner},
	}
	client.Friends = []*platform.FriendInfo{{ID: 42, Nickname: "alice"}}
	return New(client, 10001, newDeps(t), opts), client
}

func call(s *Session, action string, params any) (any, error) {
	return s.Handle(context.Background(), types.NewAction(action, params))
}

func TestSendGroupMessage(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})

	data, err := call(s, "send_message", map[string]any{
		"detail_type": "group",
		"group_id":    "100",
		"message":     []any{map[string]any{"type": "text", "data": map[string]any{"text": "hello"}}},
	})
	require.NoError(t, err)
	resp := data.(map[string]any)
	as.Equal("100 1 1001", resp["message_id"])

	sent := client.Sent()
	require.Len(t, sent, 1)
	as.Equal(platform.GroupTarget(100), sent[0].Target)
	as.Equal(&platform.Text{Content: "hello"}, sent[0].Elements[0])

	got, err := call(s, "get_message", map[string]any{"message_id": "100 1 1001"})
	require.NoError(t, err)
	ev := got.(*types.Event)
	as.Equal("hello", ev.Message().AltMessage)
	as.Equal("10001", ev.Message().UserID)

	_, err = call(s, "delete_message", map[string]any{"message_id": "100 1 1001"})
	require.NoError(t, err)
	recalls := client.CallsOf("Recall")
	require.Len(t, recalls, 1)
	as.Equal(platform.GroupTarget(100), recalls[0].Args[0])
}

func TestSendRiskControlled(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})
	client.NextReceipt = &platform.Receipt{Seqs: []int32{0}, Rands: []int32{5}}

	_, err := call(s, "send_message", map[string]any{
		"detail_type": "private",
		"user_id":     42,
		"message":     "hi",
	})
	as.ErrorIs(err, types.ErrRiskControlled)

	_, err = call(s, "get_message", map[string]any{"message_id": "42 0 5"})
	as.ErrorIs(err, types.ErrMessageNotExist)
}

func TestSendVariants(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})

	_, err := call(s, "send_message", map[string]any{
		"detail_type": "group",
		"group_id":    100,
		"message": []any{map[string]any{"type": "node", "data": map[string]any{
			"user_id": "1", "user_name": "a", "message": "inner",
		}}},
	})
	require.NoError(t, err)
	as.Len(client.CallsOf("SendForward"), 1)

	obj, err := s.media.SaveData(storage.KindVoice, "v.amr", []byte("voice"))
	require.NoError(t, err)
	_, err = call(s, "send_message", map[string]any{
		"detail_type": "group",
		"group_id":    100,
		"message": []any{
			map[string]any{"type": "text", "data": map[string]any{"text": "caption"}},
			map[string]any{"type": "voice", "data": map[string]any{"file_id": obj.ID}},
		},
	})
	as.ErrorIs(err, types.ErrBadParam)
	as.Empty(client.CallsOf("SendVoice"))

	data, err := call(s, "send_message", map[string]any{
		"detail_type": "group",
		"group_id":    100,
		"message": []any{
			map[string]any{"type": "voice", "data": map[string]any{"file_id": obj.ID}},
		},
	})
	require.NoError(t, err)
	as.Len(client.CallsOf("SendVoice"), 1)
	as.Len(client.CallsOf("UploadVoice"), 1)

	got, err := call(s, "get_message", map[string]any{"message_id": data.(map[string]any)["message_id"]})
	require.NoError(t, err)
	msg := got.(*types.Event).Message()
	require.Len(t, msg.Message, 1)
	as.Equal(types.SegVoice, msg.Message[0].Type)
}

func TestSendBadParams(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})

	_, err := call(s, "send_message", map[string]any{"detail_type": "group", "message": "x"})
	as.ErrorIs(err, types.ErrBadParam)
	_, err = call(s, "send_message", map[string]any{"detail_type": "group", "group_id": 1, "message": []any{}})
	as.ErrorIs(err, types.ErrBadParam)
	_, err = call(s, "send_message", map[string]any{"detail_type": "channel", "message": "x"})
	as.Error(err)
	as.Empty(client.Sent())
}

func TestPermissionGate(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})

	_, err := call(s, "set_group_name", map[string]any{"group_id": 100, "group_name": "x"})
	as.ErrorIs(err, types.ErrPermission)
	as.Empty(client.CallsOf("SetGroupName"))

	_, err = call(s, "set_group_name", map[string]any{"group_id": 200, "group_name": "x"})
	as.NoError(err)
	as.Len(client.CallsOf("SetGroupName"), 1)

	_, err = call(s, "set_group_admin", map[string]any{"group_id": 200, "user_id": 5})
	as.ErrorIs(err, types.ErrPermission)
	_, err = call(s, "set_group_admin", map[string]any{"group_id": 300, "user_id": 5})
	as.NoError(err)

	_, err = call(s, "ban_group_member", map[string]any{"group_id": 200, "user_id": 5, "duration": 60})
	as.NoError(err)
	mute := client.CallsOf("MuteMember")
	require.Len(t, mute, 1)
	as.Equal(time.Minute, mute[0].Args[2])

	// 修改自己的名片不需要权限
	_, err = call(s, "set_group_card", map[string]any{"group_id": 100, "user_id": 10001, "card": "me"})
	as.NoError(err)
	_, err = call(s, "set_group_card", map[string]any{"group_id": 100, "user_id": 5, "card": "you"})
	as.ErrorIs(err, types.ErrPermission)

	// 快照在有效期内只获取一次
	as.Len(client.CallsOf("FetchGroups"), 1)
}

func TestPermissionRefreshAfterTTL(t *testing.T) {
	s, client := newSession(t, Options{InfosTTL: time.Millisecond})
	_, err := call(s, "kick_group_member", map[string]any{"group_id": 200, "user_id": 5})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = call(s, "kick_group_member", map[string]any{"group_id": 200, "user_id": 5})
	require.NoError(t, err)
	assert.Len(t, client.CallsOf("FetchGroups"), 2)
}

func TestUnsupported(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})

	_, err := call(s, "no_such_action", nil)
	as.ErrorIs(err, types.ErrUnsupportedAction)

	client.Err = platform.ErrUnsupported
	_, err = call(s, "leave_group", map[string]any{"group_id": 100})
	as.ErrorIs(err, types.ErrUnsupportedAction)

	client.Err = assert.AnError
	_, err = call(s, "leave_group", map[string]any{"group_id": 100})
	as.Equal(types.CodePlatform, types.AsRespError(err).Code)
}

func TestGroupAndFriendLists(t *testing.T) {
	as := assert.New(t)
	s, _ := newSession(t, Options{})

	data, err := call(s, "get_group_list", nil)
	require.NoError(t, err)
	groups := data.([]map[string]any)
	require.Len(t, groups, 3)
	as.Equal("100", groups[0]["group_id"])

	data, err = call(s, "get_group_info", map[string]any{"group_id": 300})
	require.NoError(t, err)
	as.Equal("owner-group", data.(map[string]any)["group_name"])

	_, err = call(s, "get_group_info", map[string]any{"group_id": 999})
	as.Equal(types.CodeGroupNotExist, types.AsRespError(err).Code)

	data, err = call(s, "get_friend_list", nil)
	require.NoError(t, err)
	as.Equal("alice", data.([]map[string]any)[0]["user_name"])

	data, err = call(s, "get_user_info", map[string]any{"user_id": 42})
	require.NoError(t, err)
	as.Equal("alice", data.(map[string]any)["user_name"])
}

func TestLatestEvents(t *testing.T) {
	as := assert.New(t)
	s, _ := newSession(t, Options{})

	start := time.Now()
	data, err := call(s, "get_latest_events", map[string]any{"timeout": 0.05})
	require.NoError(t, err)
	as.Empty(data)
	as.GreaterOrEqual(time.Since(start), 50*time.Millisecond)

	s.dispatch(context.Background(), &platform.FriendPoke{SenderID: 1, ReceiverID: 10001}, nil, nil)
	data, err = call(s, "get_latest_events", map[string]any{"limit": 10})
	require.NoError(t, err)
	evs := data.([]*types.Event)
	require.Len(t, evs, 1)
	as.Equal(types.DetailFriendPoke, evs[0].Content.Detail())
}

func TestRequests(t *testing.T) {
	as := assert.New(t)
	s, client := newSession(t, Options{})
	ctx := context.Background()

	s.dispatch(ctx, &platform.NewFriendRequest{Flag: "f1", UserID: 7, Message: "hi"}, nil, nil)
	s.dispatch(ctx, &platform.GroupJoinRequest{Flag: "j1", GroupID: 100, UserID: 8}, nil, nil)

	data, err := call(s, "get_new_friend_requests", nil)
	require.NoError(t, err)
	as.Len(data, 1)

	_, err = call(s, "set_join_group", map[string]any{"request_id": "f1", "accept": true})
	as.Equal(types.CodeRequestNotExist, types.AsRespError(err).Code)

	_, err = call(s, "set_new_friend", map[string]any{"request_id": "f1", "accept": true})
	require.NoError(t, err)
	as.Equal([]any{"f1", true}, client.CallsOf("HandleFriendRequest")[0].Args)

	data, err = call(s, "get_new_friend_requests", nil)
	require.NoError(t, err)
	as.Empty(data)

	_, err = call(s, "set_join_group", map[string]any{"request_id": "j1", "accept": false, "block": true, "message": "no"})
	require.NoError(t, err)
	as.Equal([]any{"j1", false, false, true, "no"}, client.CallsOf("HandleGroupRequest")[0].Args)
}

func TestFiles(t *testing.T) {
	as := assert.New(t)
	s, _ := newSession(t, Options{})

	payload := []byte("hello file")
	data, err := call(s, "upload_file", map[string]any{
		"type": "data",
		"name": "a.txt",
		"data": base64.StdEncoding.EncodeToString(payload),
	})
	require.NoError(t, err)
	fileID := data.(map[string]any)["file_id"].(string)
	as.Equal(storage.MediaIDOf(payload), fileID)

	data, err = call(s, "get_file", map[string]any{"file_id": fileID, "type": "data"})
	require.NoError(t, err)
	as.Equal(payload, data.(map[string]any)["data"])

	_, err = call(s, "get_file", map[string]any{"file_id": fileID, "type": "url"})
	as.Equal(types.CodeImageURL, types.AsRespError(err).Code)

	data, err = call(s, "get_file_fragmented", map[string]any{"file_id": fileID, "stage": "transfer", "offset": 6, "size": 100})
	require.NoError(t, err)
	as.Equal([]byte("file"), data.(map[string]any)["data"])
}

func TestFragmentedUpload(t *testing.T) {
	as := assert.New(t)
	s, _ := newSession(t, Options{})

	data, err := call(s, "upload_file_fragmented", map[string]any{"stage": "prepare", "name": "b.bin", "total_size": 6})
	require.NoError(t, err)
	tid := data.(map[string]any)["file_id"]

	for _, part := range []struct {
		offset int
		data   string
	}{{3, "def"}, {0, "abc"}} {
		_, err = call(s, "upload_file_fragmented", map[string]any{
			"stage": "transfer", "file_id": tid, "offset": part.offset,
			"data": base64.StdEncoding.EncodeToString([]byte(part.data)),
		})
		require.NoError(t, err)
	}

	_, err = call(s, "upload_file_fragmented", map[string]any{
		"stage": "transfer", "file_id": tid, "offset": 5,
		"data": base64.StdEncoding.EncodeToString([]byte("xx")),
	})
	as.ErrorIs(err, types.ErrBadParam)

	data, err = call(s, "upload_file_fragmented", map[string]any{"stage": "finish", "file_id": tid})
	require.NoError(t, err)
	as.Equal(storage.MediaIDOf([]byte("abcdef")), data.(map[string]any)["file_id"])

	_, err = call(s, "upload_file_fragmented", map[string]any{"stage": "finish", "file_id": tid})
	as.ErrorIs(err, types.ErrFragmentNotExist)
}

func TestFragmentExpires(t *testing.T) {
	s, _ := newSession(t, Options{FragmentTTL: 20 * time.Millisecond})

	data, err := call(s, "upload_file_fragmented", map[string]any{"stage": "prepare", "name": "c.bin", "total_size": 1})
	require.NoError(t, err)
	tid := data.(map[string]any)["file_id"]

	time.Sleep(50 * time.Millisecond)
	_, err = call(s, "upload_file_fragmented", map[string]any{
		"stage": "transfer", "file_id": tid, "offset": 0,
		"data": base64.StdEncoding.EncodeToString([]byte("x")),
	})
	assert.ErrorIs(t, err, types.ErrFragmentNotExist)
}

func TestRunPumpsEvents(t *testing.T) {
	as := assert.New(t)
	client := platformtest.New(555)
	s := New(client, 0, newDeps(t), Options{})

	var (
		mu  sync.Mutex
		got []*types.Event
	)
	sink := func(ev *types.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}
	logged := make(chan int64, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, sink, func(s *Session) { logged <- s.UserID() }) }()

	select {
	case uin := <-logged:
		as.EqualValues(555, uin)
	case <-time.After(time.Second):
		t.Fatal("no login")
	}

	client.Emit(&platform.GroupMessage{GroupID: 100, SenderID: 42, MessageMeta: platform.MessageMeta{Seq: 1, Rand: 2}, Elements: []platform.Element{&platform.Text{Content: "hi"}}})
	as.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	as.Equal("555", got[0].SelfID)
	as.Equal("100 1 2", got[0].Message().MessageID)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		as.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	as.False(s.Online())
}

type namedClient struct {
	*platformtest.Client
}

func (namedClient) FetchGroupName(_ context.Context, groupID int64) (string, error) {
	if groupID == 900 {
		return "named", nil
	}
	return "", platform.ErrUnsupported
}

func TestGroupInfoFallback(t *testing.T) {
	as := assert.New(t)
	s := New(namedClient{platformtest.New(10001)}, 10001, newDeps(t), Options{})

	data, err := call(s, "get_group_info", map[string]any{"group_id": 900})
	require.NoError(t, err)
	as.Equal("named", data.(map[string]any)["group_name"])

	_, err = call(s, "get_group_info", map[string]any{"group_id": 901})
	as.ErrorIs(err, &types.RespError{Code: types.CodeGroupNotExist})
}

func TestLifecycleNotPublished(t *testing.T) {
	as := assert.New(t)
	client := platformtest.New(10001)
	s := New(client, 10001, newDeps(t), Options{})

	var published atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, func(*types.Event) { published.Add(1) }, nil) }()

	require.Eventually(t, s.Online, time.Second, 10*time.Millisecond)
	client.Emit(&platform.Disconnected{Reason: "reset"})
	require.Eventually(t, func() bool { return !s.Online() }, time.Second, 10*time.Millisecond)
	client.Emit(&platform.ForcedOffline{Reason: "kicked"})

	data, err := call(s, "get_latest_events", map[string]any{"limit": 0, "timeout": 0.05})
	require.NoError(t, err)
	as.Empty(data)
	as.Zero(published.Load())
}

func TestFragmentedUploadBounds(t *testing.T) {
	as := assert.New(t)
	s, _ := newSession(t, Options{})

	_, err := call(s, "upload_file_fragmented", map[string]any{"stage": "prepare", "name": "huge.bin", "total_size": int64(1) << 40})
	as.ErrorIs(err, types.ErrBadParam)

	data, err := call(s, "upload_file_fragmented", map[string]any{"stage": "prepare", "name": "d.bin", "total_size": 4})
	require.NoError(t, err)
	tid := data.(map[string]any)["file_id"]

	_, err = call(s, "upload_file_fragmented", map[string]any{
		"stage": "transfer", "file_id": tid, "offset": int64(math.MaxInt64) - 1,
		"data": base64.StdEncoding.EncodeToString([]byte("abcd")),
	})
	as.ErrorIs(err, types.ErrBadParam)

	_, err = call(s, "upload_file_fragmented", map[string]any{
		"stage": "transfer", "file_id": tid, "offset": 0,
		"data": base64.StdEncoding.EncodeToString([]byte("abcd")),
	})
	require.NoError(t, err)

	_, err = call(s, "upload_file_fragmented", map[string]any{"stage": "finish", "file_id": tid, "sha256": "00"})
	as.ErrorIs(err, types.ErrBadParam)

	sum := sha256.Sum256([]byte("abcd"))
	data, err = call(s, "upload_file_fragmented", map[string]any{"stage": "finish", "file_id": tid, "sha256": hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	fid := data.(map[string]any)["file_id"]
	as.Equal(storage.MediaIDOf([]byte("abcd")), fid)

	data, err = call(s, "get_file_fragmented", map[string]any{"stage": "prepare", "file_id": fid})
	require.NoError(t, err)
	as.EqualValues(4, data.(map[string]any)["total_size"])
	as.Equal(hex.EncodeToString(sum[:]), data.(map[string]any)["sha256"])
}
