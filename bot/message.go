package bot

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/types"
	"github.com/sealdice/sealbridge/utils"
)

func secondsDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// sendTarget 由 detail_type 确定发送目标
func sendTarget(p types.Params) (platform.Target, error) {
	detail, err := p.String("detail_type")
	if err != nil {
		return platform.Target{}, err
	}
	switch detail {
	case types.DetailGroup:
		g, err := groupParam(p)
		if err != nil {
			return platform.Target{}, err
		}
		return platform.GroupTarget(g), nil
	case types.DetailPrivate:
		u, err := userParam(p)
		if err != nil {
			return platform.Target{}, err
		}
		return platform.PrivateTarget(u), nil
	case types.DetailGroupTemp:
		g, u, err := groupUserParams(p)
		if err != nil {
			return platform.Target{}, err
		}
		return platform.TempTarget(g, u), nil
	}
	return platform.Target{}, types.UnsupportedParam("detail_type %s", detail)
}

func (s *Session) sendMessage(ctx context.Context, p types.Params) (any, error) {
	target, err := sendTarget(p)
	if err != nil {
		return nil, err
	}
	segs, err := p.Segments("message")
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, types.BadParam("message is empty")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	receipt, err := s.send(ctx, target, segs)
	if err != nil {
		return nil, err
	}
	if receipt.Blocked() {
		s.log.Warnf("账号 %d 发往 %s %d 的消息被风控", s.UserID(), target.Scene, target.Peer())
		return nil, types.RiskControlled()
	}

	ev := s.norm.Sent(s.UserID(), s.Nickname(), target, receipt, segs)
	return map[string]any{
		"message_id": ev.Message().MessageID,
		"time":       ev.Time,
	}, nil
}

// send 按消息内容选择发送方式：全部为 node 时合并转发，语音只能单独发送
func (s *Session) send(ctx context.Context, target platform.Target, segs types.Segments) (*platform.Receipt, error) {
	switch {
	case segs.AllNodes():
		nodes, err := s.tr.OutboundNodes(ctx, s.client, target, segs)
		if err != nil {
			return nil, err
		}
		return s.client.SendForward(ctx, target, nodes)
	case segs.Has(types.SegVoice):
		if len(segs) != 1 {
			return nil, types.BadParam("voice must be sent alone")
		}
		elems, err := s.tr.Outbound(ctx, s.client, target, segs)
		if err != nil {
			return nil, err
		}
		return s.client.SendVoice(ctx, target, elems[0].(*platform.Voice))
	}
	elems, err := s.tr.Outbound(ctx, s.client, target, segs)
	if err != nil {
		return nil, err
	}
	return s.client.SendMessage(ctx, target, elems)
}

func (s *Session) storedMessage(p types.Params) (*types.Event, error) {
	id, err := p.String("message_id")
	if err != nil {
		return nil, err
	}
	ev, err := s.db.GetEvent(id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, types.MessageNotExist(id)
	}
	if err != nil {
		return nil, types.InternalHandler("load message %s: %v", id, err)
	}
	return ev, nil
}

func (s *Session) getMessage(_ context.Context, p types.Params) (any, error) {
	return s.storedMessage(p)
}

// deleteMessage 撤回需要原消息的会话信息，因此只能撤回已记录的消息
func (s *Session) deleteMessage(ctx context.Context, p types.Params) (any, error) {
	ev, err := s.storedMessage(p)
	if err != nil {
		return nil, err
	}
	msg := ev.Message()
	id, err := utils.DecodeMessageID(msg.MessageID)
	if err != nil {
		return nil, types.BadParam("message_id: %v", err)
	}

	var target platform.Target
	switch msg.DetailType {
	case types.DetailGroup:
		target = platform.GroupTarget(id.Target)
	case types.DetailGroupTemp:
		g, _ := strconv.ParseInt(msg.GroupID, 10, 64)
		target = platform.TempTarget(g, id.Target)
	default:
		target = platform.PrivateTarget(id.Target)
	}
	receipt := &platform.Receipt{Seqs: id.Seqs, Rands: id.Rands}
	if id.Time != nil {
		receipt.Time = *id.Time
	}
	if err := s.client.Recall(ctx, target, receipt); err != nil {
		return nil, err
	}
	return nil, nil
}
