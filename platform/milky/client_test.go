package milky

import (
	"context"
	"testing"

	milky "github.com/Szzrain/Milky-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealdice/sealbridge/platform"
)

func TestFromMilky(t *testing.T) {
	as := assert.New(t)
	c := New(Config{}, 1)

	elems := c.fromMilky(platform.SceneGroup, []milky.IMessageElement{
		&milky.TextElement{Text: "hi"},
		&milky.AtElement{UserID: 42},
		&milky.ImageElement{TempURL: "http://img/a"},
		&milky.ReplyElement{MessageSeq: 7},
		&milky.RecordElement{URI: "file:///tmp/v.amr"},
	})
	require.Len(t, elems, 5)
	as.Equal(&platform.Text{Content: "hi"}, elems[0])
	as.EqualValues(42, elems[1].(*platform.At).Target)

	img := elems[2].(*platform.Image)
	as.Equal(platform.ImageGroup, img.Scope)
	as.Equal("http://img/a", img.URL)
	as.Nil(img.MD5)
	as.Zero(img.Size)

	as.EqualValues(7, elems[3].(*platform.Reply).Seq)
	as.Equal("file:///tmp/v.amr", elems[4].(*platform.Voice).URL)
}

func TestToMilky(t *testing.T) {
	as := assert.New(t)
	c := New(Config{}, 1)

	out := c.toMilky([]platform.Element{
		&platform.Text{Content: "a"},
		&platform.At{Target: 0},
		&platform.At{Target: 5},
		&platform.Image{Data: []byte("abc")},
		&platform.Voice{URL: "http://v"},
		&platform.Reply{Seq: 3},
		&platform.Face{ID: 1},
	})
	require.Len(t, out, 6)
	as.Equal("@全体成员", out[1].(*milky.TextElement).Text)
	as.EqualValues(5, out[2].(*milky.AtElement).UserID)
	as.Equal("base64://YWJj", out[3].(*milky.ImageElement).URI)
	as.Equal("http://v", out[4].(*milky.RecordElement).URI)
	as.EqualValues(3, out[5].(*milky.ReplyElement).MessageSeq)
}

func TestSeqOf(t *testing.T) {
	as := assert.New(t)
	as.EqualValues(5, seqOf(int64(5)))
	as.EqualValues(6, seqOf("6"))
	as.EqualValues(0, seqOf(nil))
}

func TestRunRequiresAccount(t *testing.T) {
	err := New(Config{WsGateway: "ws://x", RestGateway: "http://x"}, 0).Run(context.Background())
	assert.ErrorIs(t, err, platform.ErrLoginFatal)

	_, err = New(Config{}, 1).SendMessage(context.Background(), platform.GroupTarget(1), nil)
	assert.ErrorIs(t, err, platform.ErrNotConnected)

	info, err := New(Config{}, 9).Self(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 9, info.ID)
}
