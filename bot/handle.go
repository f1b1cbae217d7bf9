package bot

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/types"
)

type handlerFunc func(s *Session, ctx context.Context, p types.Params) (any, error)

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		"get_latest_events":     (*Session).getLatestEvents,
		"get_self_info":         (*Session).getSelfInfo,
		"get_supported_actions": (*Session).getSupportedActions,

		"send_message":   (*Session).sendMessage,
		"delete_message": (*Session).deleteMessage,
		"get_message":    (*Session).getMessage,

		"get_user_info":   (*Session).getUserInfo,
		"get_friend_list": (*Session).getFriendList,
		"delete_friend":   (*Session).deleteFriend,

		"get_group_info":        (*Session).getGroupInfo,
		"get_group_list":        (*Session).getGroupList,
		"get_group_member_info": (*Session).getGroupMemberInfo,
		"get_group_member_list": (*Session).getGroupMemberList,
		"set_group_name":        (*Session).setGroupName,
		"leave_group":           (*Session).leaveGroup,
		"kick_group_member":     (*Session).kickGroupMember,
		"ban_group_member":      (*Session).banGroupMember,
		"unban_group_member":    (*Session).unbanGroupMember,
		"set_group_admin":       (*Session).setGroupAdmin,
		"unset_group_admin":     (*Session).unsetGroupAdmin,
		"set_group_card":        (*Session).setGroupCard,
		"upload_group_file":     (*Session).uploadGroupFile,

		"get_new_friend_requests": (*Session).getNewFriendRequests,
		"set_new_friend":          (*Session).setNewFriend,
		"get_join_group_requests": (*Session).getJoinGroupRequests,
		"set_join_group":          (*Session).setJoinGroup,
		"get_group_inviteds":      (*Session).getGroupInviteds,
		"set_group_invited":       (*Session).setGroupInvited,

		"upload_file":            (*Session).uploadFile,
		"upload_file_fragmented": (*Session).uploadFileFragmented,
		"get_file":               (*Session).getFile,
		"get_file_fragmented":    (*Session).getFileFragmented,
	}
}

// Actions 会话支持的动作，按名称排序
func Actions() []string {
	names := lo.Keys(handlers)
	sort.Strings(names)
	return names
}

// Handle 执行动作。返回的错误总是 *types.RespError
func (s *Session) Handle(ctx context.Context, a *types.Action) (any, error) {
	h, ok := handlers[a.Action]
	if !ok {
		return nil, types.UnsupportedAction(a.Action)
	}
	data, err := h(s, ctx, a.Param())
	if err != nil {
		return nil, s.mapError(a.Action, err)
	}
	return data, nil
}

// mapError 将协议端错误转换为 OneBot 返回码
func (s *Session) mapError(action string, err error) error {
	var re *types.RespError
	switch {
	case errors.As(err, &re):
		return re
	case errors.Is(err, platform.ErrUnsupported):
		return types.UnsupportedAction(action)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.InternalHandler("%s: %v", action, err).Wrap(err)
	}
	s.log.Debugf("动作 %s 协议端错误: %v", action, err)
	return types.PlatformError(err)
}

func (s *Session) getSelfInfo(_ context.Context, _ types.Params) (any, error) {
	return map[string]any{
		"user_id":          s.SelfID(),
		"user_name":        s.Nickname(),
		"user_displayname": "",
	}, nil
}

func (s *Session) getSupportedActions(context.Context, types.Params) (any, error) {
	return append(Actions(), "get_status", "get_version"), nil
}

func (s *Session) getLatestEvents(ctx context.Context, p types.Params) (any, error) {
	limit, err := p.OptInt64("limit", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := p.OptFloat("timeout", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 || timeout < 0 {
		return nil, types.BadParam("limit and timeout must not be negative")
	}
	evs := s.recent.Wait(ctx, int(limit), secondsDuration(timeout))
	if evs == nil {
		evs = []*types.Event{}
	}
	return evs, nil
}

func groupParam(p types.Params) (int64, error) {
	id, err := p.Int64("group_id")
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, types.BadParam("invalid group_id %d", id)
	}
	return id, nil
}

func userParam(p types.Params) (int64, error) {
	id, err := p.Int64("user_id")
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, types.BadParam("invalid user_id %d", id)
	}
	return id, nil
}

func groupUserParams(p types.Params) (int64, int64, error) {
	g, err := groupParam(p)
	if err != nil {
		return 0, 0, err
	}
	u, err := userParam(p)
	if err != nil {
		return 0, 0, err
	}
	return g, u, nil
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }
