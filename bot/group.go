package bot

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/types"
)

func userResp(id int64, name, remark string) map[string]any {
	return map[string]any{
		"user_id":          idString(id),
		"user_name":        name,
		"user_displayname": "",
		"user_remark":      remark,
	}
}

func groupResp(g *platform.GroupInfo) map[string]any {
	return map[string]any{
		"group_id":   idString(g.ID),
		"group_name": g.Name,
	}
}

func memberResp(m *platform.MemberInfo) map[string]any {
	return map[string]any{
		"user_id":          idString(m.UserID),
		"user_name":        m.Nickname,
		"user_displayname": m.Card,
		"role":             string(m.Role),
	}
}

func (s *Session) getUserInfo(ctx context.Context, p types.Params) (any, error) {
	uid, err := userParam(p)
	if err != nil {
		return nil, err
	}
	if f, ok := s.Infos().Friends[uid]; ok {
		return userResp(f.ID, f.Nickname, f.Remark), nil
	}
	u, err := s.client.FetchUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	return userResp(u.ID, u.Nickname, ""), nil
}

func (s *Session) getFriendList(ctx context.Context, _ types.Params) (any, error) {
	infos, err := s.Update(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(infos.FriendList(), func(f *platform.FriendInfo, _ int) map[string]any {
		return userResp(f.ID, f.Nickname, f.Remark)
	}), nil
}

func (s *Session) deleteFriend(ctx context.Context, p types.Params) (any, error) {
	uid, err := userParam(p)
	if err != nil {
		return nil, err
	}
	if _, ok := s.Infos().Friends[uid]; !ok {
		return nil, types.FriendNotExist(uid)
	}
	return nil, s.client.DeleteFriend(ctx, uid)
}

func (s *Session) getGroupInfo(ctx context.Context, p types.Params) (any, error) {
	gid, err := groupParam(p)
	if err != nil {
		return nil, err
	}
	infos, err := s.fresh(ctx)
	if err != nil {
		return nil, err
	}
	g, ok := infos.Group(gid)
	if ok {
		return groupResp(g), nil
	}
	if namer, ok := s.client.(platform.GroupNamer); ok {
		name, err := namer.FetchGroupName(ctx, gid)
		if err == nil {
			return groupResp(&platform.GroupInfo{ID: gid, Name: name}), nil
		}
		s.log.Debugf("查询群 %d 名称失败: %v", gid, err)
	}
	return nil, types.GroupNotExist(gid)
}

func (s *Session) getGroupList(ctx context.Context, _ types.Params) (any, error) {
	infos, err := s.Update(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(infos.Groups(), func(g *platform.GroupInfo, _ int) map[string]any { return groupResp(g) }), nil
}

func (s *Session) getGroupMemberInfo(ctx context.Context, p types.Params) (any, error) {
	gid, uid, err := groupUserParams(p)
	if err != nil {
		return nil, err
	}
	m, err := s.client.FetchGroupMember(ctx, gid, uid)
	if err != nil {
		return nil, err
	}
	return memberResp(m), nil
}

func (s *Session) getGroupMemberList(ctx context.Context, p types.Params) (any, error) {
	gid, err := groupParam(p)
	if err != nil {
		return nil, err
	}
	members, err := s.client.FetchGroupMembers(ctx, gid)
	if err != nil {
		return nil, err
	}
	return lo.Map(members, func(m *platform.MemberInfo, _ int) map[string]any { return memberResp(m) }), nil
}

func (s *Session) setGroupName(ctx context.Context, p types.Params) (any, error) {
	gid, err := groupParam(p)
	if err != nil {
		return nil, err
	}
	name, err := p.String("group_name")
	if err != nil {
		return nil, err
	}
	if err := s.checkAdmin(ctx, gid); err != nil {
		return nil, err
	}
	return nil, s.client.SetGroupName(ctx, gid, name)
}

func (s *Session) leaveGroup(ctx context.Context, p types.Params) (any, error) {
	gid, err := groupParam(p)
	if err != nil {
		return nil, err
	}
	return nil, s.client.LeaveGroup(ctx, gid)
}

func (s *Session) kickGroupMember(ctx context.Context, p types.Params) (any, error) {
	gid, uid, err := groupUserParams(p)
	if err != nil {
		return nil, err
	}
	reject, err := p.OptBool("reject_add_request", false)
	if err != nil {
		return nil, err
	}
	if err := s.checkAdmin(ctx, gid); err != nil {
		return nil, err
	}
	return nil, s.client.KickMember(ctx, gid, uid, reject)
}

func (s *Session) banGroupMember(ctx context.Context, p types.Params) (any, error) {
	gid, uid, err := groupUserParams(p)
	if err != nil {
		return nil, err
	}
	sec, err := p.Int64("duration")
	if err != nil {
		return nil, err
	}
	if sec <= 0 {
		return nil, types.BadParam("duration must be positive")
	}
	if err := s.checkAdmin(ctx, gid); err != nil {
		return nil, err
	}
	return nil, s.client.MuteMember(ctx, gid, uid, time.Duration(sec)*time.Second)
}

func (s *Session) unbanGroupMember(ctx context.Context, p types.Params) (any, error) {
	gid, uid, err := groupUserParams(p)
	if err != nil {
		return nil, err
	}
	if err := s.checkAdmin(ctx, gid); err != nil {
		return nil, err
	}
	return nil, s.client.MuteMember(ctx, gid, uid, 0)
}

func (s *Session) setAdmin(ctx context.Context, p types.Params, enable bool) (any, error) {
	gid, uid, err := groupUserParams(p)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, gid); err != nil {
		return nil, err
	}
	return nil, s.client.SetAdmin(ctx, gid, uid, enable)
}

func (s *Session) setGroupAdmin(ctx context.Context, p types.Params) (any, error) {
	return s.setAdmin(ctx, p, true)
}

func (s *Session) unsetGroupAdmin(ctx context.Context, p types.Params) (any, error) {
	return s.setAdmin(ctx, p, false)
}

// setGroupCard 修改自己的群名片不需要管理权限
func (s *Session) setGroupCard(ctx context.Context, p types.Params) (any, error) {
	gid, uid, err := groupUserParams(p)
	if err != nil {
		return nil, err
	}
	card, err := p.OptString("card", "")
	if err != nil {
		return nil, err
	}
	if uid != s.UserID() {
		if err := s.checkAdmin(ctx, gid); err != nil {
			return nil, err
		}
	}
	return nil, s.client.SetGroupCard(ctx, gid, uid, card)
}

func (s *Session) uploadGroupFile(ctx context.Context, p types.Params) (any, error) {
	gid, err := groupParam(p)
	if err != nil {
		return nil, err
	}
	obj, err := s.mediaParam(p)
	if err != nil {
		return nil, err
	}
	name, err := p.OptString("name", obj.Name)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = obj.ID
	}
	path, err := s.localPath(ctx, obj)
	if err != nil {
		return nil, err
	}
	return nil, s.client.UploadGroupFile(ctx, gid, path, name)
}
