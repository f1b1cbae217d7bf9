package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEventJSONFlat(t *testing.T) {
	as := assert.New(t)
	ev := &Event{
		ID:       "e1",
		Impl:     ImplName,
		Platform: PlatformName,
		SelfID:   "10001",
		Time:     1700000000.5,
		Content: &MessageContent{
			DetailType: DetailGroup,
			MessageID:  "1 2 3",
			Message:    Segments{TextSegment("hi"), MentionSegment("42")},
			AltMessage: "hi@42",
			UserID:     "42",
			GroupID:    "7",
		},
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	r := gjson.ParseBytes(raw)
	as.Equal("message", r.Get("type").String())
	as.Equal("group", r.Get("detail_type").String())
	as.Equal("10001", r.Get("self.user_id").String())
	as.Equal("qq", r.Get("self.platform").String())
	as.Equal("hi", r.Get("message.0.data.text").String())

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	as.Equal(ev.ID, back.ID)
	as.Equal(ev.Time, back.Time)
	msg := back.Message()
	require.NotNil(t, msg)
	as.Equal("1 2 3", msg.MessageID)
	as.Equal("7", msg.GroupID)
	as.Len(msg.Message, 2)
}

func TestEventUnmarshalVariants(t *testing.T) {
	as := assert.New(t)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","type":"notice","detail_type":"group_member_ban","sub_type":"","group_id":"1","user_id":"2","duration":60}`), &ev))
	n, ok := ev.Content.(*NoticeContent)
	require.True(t, ok)
	as.EqualValues(60, n.Duration)
	as.Nil(ev.Message())

	as.Error(json.Unmarshal([]byte(`{"type":"bogus"}`), &ev))
}

func TestParseSegmentsNested(t *testing.T) {
	as := assert.New(t)
	raw := `[{"type":"node","data":{"user_id":"1","user_name":"a","message":[{"type":"text","data":{"text":"x"}},{"type":"node","data":{"user_id":"2","message":"inner"}}]}}]`
	segs, err := ParseSegments(gjson.Parse(raw))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	as.True(segs.AllNodes())
	children := segs[0].Children()
	require.Len(t, children, 2)
	as.Equal("x", children[0].Str("text"))
	as.Equal("inner", children[1].Children()[0].Str("text"))
}

func TestParseSegmentsTooDeep(t *testing.T) {
	inner := `"leaf"`
	for i := 0; i < MaxForwardDepth+1; i++ {
		inner = `[{"type":"node","data":{"user_id":"1","message":` + inner + `}}]`
	}
	_, err := ParseSegments(gjson.Parse(inner))
	assert.ErrorIs(t, err, ErrBadParam)

	ok := `"leaf"`
	for i := 0; i < MaxForwardDepth; i++ {
		ok = `[{"type":"node","data":{"user_id":"1","message":` + ok + `}}]`
	}
	_, err = ParseSegments(gjson.Parse(ok))
	assert.NoError(t, err)
}

func TestAltMessage(t *testing.T) {
	segs := Segments{TextSegment("hello "), MentionSegment("9"), ImageSegment("ab", "", false), {Type: "location"}}
	assert.Equal(t, "hello @9[图片][location]", segs.AltMessage())
}

func TestParams(t *testing.T) {
	as := assert.New(t)
	a := NewAction("send_message", map[string]any{
		"group_id": "123",
		"user_id":  456,
		"flag":     true,
		"timeout":  1.5,
		"data":     "aGk=",
	})
	p := a.Param()

	n, err := p.Int64("group_id")
	as.NoError(err)
	as.EqualValues(123, n)
	n, err = p.Int64("user_id")
	as.NoError(err)
	as.EqualValues(456, n)

	_, err = p.Int64("missing")
	as.ErrorIs(err, ErrBadParam)
	n, err = p.OptInt64("missing", 9)
	as.NoError(err)
	as.EqualValues(9, n)

	b, err := p.OptBool("flag", false)
	as.NoError(err)
	as.True(b)
	_, err = p.Bool("group_id")
	as.ErrorIs(err, ErrBadParam)

	f, err := p.OptFloat("timeout", 0)
	as.NoError(err)
	as.InDelta(1.5, f, 1e-9)

	data, err := p.Bytes("data")
	as.NoError(err)
	as.Equal("hi", string(data))

	s, err := p.String("user_id")
	as.NoError(err)
	as.Equal("456", s)
}

func TestFailedResp(t *testing.T) {
	as := assert.New(t)
	r := Failed(PermissionDenied("not admin of %d", 5))
	as.Equal("failed", r.Status)
	as.Equal(CodePermissionDenied, r.Retcode)
	as.True(strings.Contains(r.Message, "not admin"))

	r = Failed(assert.AnError)
	as.Equal(CodeInternalHandler, r.Retcode)

	as.True(OK(nil).IsOK())
}
