package bot

import (
	"context"
	"sort"

	"github.com/sealdice/sealbridge/types"
)

// pendingRequests 待处理的请求事件，按时间排序
func (s *Session) pendingRequests(detail string) []*types.Event {
	out := []*types.Event{}
	s.requests.Range(func(_ string, ev *types.Event) bool {
		if ev.Content.Detail() == detail {
			out = append(out, ev)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// takeRequest 取出指定类型的待处理请求，处理失败时需放回
func (s *Session) takeRequest(p types.Params, detail string) (*types.Event, *types.RequestContent, error) {
	id, err := p.String("request_id")
	if err != nil {
		return nil, nil, err
	}
	ev, ok := s.requests.Load(id)
	if !ok {
		return nil, nil, types.RequestNotExist(id)
	}
	req := ev.Content.(*types.RequestContent)
	if req.DetailType != detail {
		return nil, nil, types.RequestNotExist(id)
	}
	if !s.requests.CompareAndDelete(id, ev) {
		return nil, nil, types.RequestNotExist(id)
	}
	return ev, req, nil
}

func (s *Session) getNewFriendRequests(context.Context, types.Params) (any, error) {
	return s.pendingRequests(types.DetailNewFriend), nil
}

func (s *Session) getJoinGroupRequests(context.Context, types.Params) (any, error) {
	return s.pendingRequests(types.DetailJoinGroup), nil
}

func (s *Session) getGroupInviteds(context.Context, types.Params) (any, error) {
	return s.pendingRequests(types.DetailGroupInvited), nil
}

func (s *Session) setNewFriend(ctx context.Context, p types.Params) (any, error) {
	accept, err := p.Bool("accept")
	if err != nil {
		return nil, err
	}
	ev, req, err := s.takeRequest(p, types.DetailNewFriend)
	if err != nil {
		return nil, err
	}
	if err := s.client.HandleFriendRequest(ctx, req.RequestID, accept); err != nil {
		s.requests.Store(req.RequestID, ev)
		return nil, err
	}
	return nil, nil
}

func (s *Session) setJoinGroup(ctx context.Context, p types.Params) (any, error) {
	accept, err := p.Bool("accept")
	if err != nil {
		return nil, err
	}
	block, err := p.OptBool("block", false)
	if err != nil {
		return nil, err
	}
	reason, err := p.OptString("message", "")
	if err != nil {
		return nil, err
	}
	ev, req, err := s.takeRequest(p, types.DetailJoinGroup)
	if err != nil {
		return nil, err
	}
	if err := s.client.HandleGroupRequest(ctx, req.RequestID, false, accept, block, reason); err != nil {
		s.requests.Store(req.RequestID, ev)
		return nil, err
	}
	return nil, nil
}

func (s *Session) setGroupInvited(ctx context.Context, p types.Params) (any, error) {
	accept, err := p.Bool("accept")
	if err != nil {
		return nil, err
	}
	ev, req, err := s.takeRequest(p, types.DetailGroupInvited)
	if err != nil {
		return nil, err
	}
	if err := s.client.HandleGroupRequest(ctx, req.RequestID, true, accept, false, ""); err != nil {
		s.requests.Store(req.RequestID, ev)
		return nil, err
	}
	return nil, nil
}
