package bot

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/types"
)

// DefaultInfosTTL 权限检查前快照的最长有效期
const DefaultInfosTTL = 5 * time.Minute

// Infos 账号的群与好友快照，整体替换，不做原地修改
type Infos struct {
	Owned   map[int64]*platform.GroupInfo
	Admin   map[int64]*platform.GroupInfo
	Other   map[int64]*platform.GroupInfo
	Friends map[int64]*platform.FriendInfo

	UpdatedAt time.Time
}

func newInfos(groups []*platform.GroupInfo, friends []*platform.FriendInfo) *Infos {
	i := &Infos{
		Owned:     map[int64]*platform.GroupInfo{},
		Admin:     map[int64]*platform.GroupInfo{},
		Other:     map[int64]*platform.GroupInfo{},
		Friends:   lo.SliceToMap(friends, func(f *platform.FriendInfo) (int64, *platform.FriendInfo) { return f.ID, f }),
		UpdatedAt: time.Now(),
	}
	for _, g := range groups {
		switch g.SelfRole {
		case platform.RoleOwner:
			i.Owned[g.ID] = g
		case platform.RoleAdmin:
			i.Admin[g.ID] = g
		default:
			i.Other[g.ID] = g
		}
	}
	return i
}

func (i *Infos) Group(id int64) (*platform.GroupInfo, bool) {
	if g, ok := i.Owned[id]; ok {
		return g, true
	}
	if g, ok := i.Admin[id]; ok {
		return g, true
	}
	g, ok := i.Other[id]
	return g, ok
}

// Groups 按群号排序的全部群
func (i *Infos) Groups() []*platform.GroupInfo {
	out := make([]*platform.GroupInfo, 0, len(i.Owned)+len(i.Admin)+len(i.Other))
	out = append(out, lo.Values(i.Owned)...)
	out = append(out, lo.Values(i.Admin)...)
	out = append(out, lo.Values(i.Other)...)
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (i *Infos) FriendList() []*platform.FriendInfo {
	out := lo.Values(i.Friends)
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// CheckAdmin 账号需是群主或管理员
func (i *Infos) CheckAdmin(group int64) error {
	if _, ok := i.Owned[group]; ok {
		return nil
	}
	if _, ok := i.Admin[group]; ok {
		return nil
	}
	return types.PermissionDenied("not admin of group %d", group)
}

// CheckOwner 账号需是群主
func (i *Infos) CheckOwner(group int64) error {
	if _, ok := i.Owned[group]; ok {
		return nil
	}
	return types.PermissionDenied("not owner of group %d", group)
}

// Infos 当前快照，尚未获取时为空
func (s *Session) Infos() *Infos {
	if i := s.infos.Load(); i != nil {
		return i
	}
	return newInfos(nil, nil)
}

// Update 重新获取群与好友列表，并发调用合并为一次
func (s *Session) Update(ctx context.Context) (*Infos, error) {
	v, err, _ := s.sf.Do("infos", func() (any, error) {
		groups, err := s.client.FetchGroups(ctx)
		if errors.Is(err, platform.ErrUnsupported) {
			s.log.Debugf("协议端不支持获取群列表")
			groups, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		friends, err := s.client.FetchFriends(ctx)
		if errors.Is(err, platform.ErrUnsupported) {
			friends, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		infos := newInfos(groups, friends)
		s.infos.Store(infos)
		s.log.Debugf("账号 %d 快照已更新: %d 个群, %d 个好友", s.UserID(), len(groups), len(friends))
		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Infos), nil
}

// fresh 返回未过期的快照，必要时刷新
func (s *Session) fresh(ctx context.Context) (*Infos, error) {
	if i := s.infos.Load(); i != nil && time.Since(i.UpdatedAt) < s.opts.InfosTTL {
		return i, nil
	}
	i, err := s.Update(ctx)
	if err != nil {
		return nil, types.PlatformError(err)
	}
	return i, nil
}

func (s *Session) checkAdmin(ctx context.Context, group int64) error {
	i, err := s.fresh(ctx)
	if err != nil {
		return err
	}
	return i.CheckAdmin(group)
}

func (s *Session) checkOwner(ctx context.Context, group int64) error {
	i, err := s.fresh(ctx)
	if err != nil {
		return err
	}
	return i.CheckOwner(group)
}
