// Package router 管理多个账号的会话，并把 OneBot 动作路由到对应账号
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sealdice/sealbridge/bot"
	"github.com/sealdice/sealbridge/config"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/types"
	"github.com/sealdice/sealbridge/utils"
)

// ActionHandler OneBot 传输层调用动作的入口
type ActionHandler interface {
	Call(ctx context.Context, a *types.Action) *types.Resp
}

// EventSink 接收所有账号的事件
type EventSink interface {
	Push(ev *types.Event)
}

type SinkFunc func(ev *types.Event)

func (f SinkFunc) Push(ev *types.Event) { f(ev) }

type Options struct {
	Session bot.Options
	// 为空时使用 NewClient
	NewClient Factory
}

type Router struct {
	deps    bot.Deps
	opts    Options
	sink    EventSink
	actions map[string]bool

	// 已确定账号的会话
	sessions utils.SyncMap[int64, *bot.Session]
	// 正在运行的会话，包括尚未登录的匿名会话
	running utils.SyncMap[*bot.Session, struct{}]

	log *zap.SugaredLogger
}

var _ ActionHandler = (*Router)(nil)

func New(deps bot.Deps, opts Options, sink EventSink) *Router {
	if opts.NewClient == nil {
		opts.NewClient = NewClient
	}
	if sink == nil {
		sink = SinkFunc(func(*types.Event) {})
	}
	actions := map[string]bool{"get_version": true, "get_status": true}
	for _, name := range bot.Actions() {
		actions[name] = true
	}
	return &Router{
		deps:    deps,
		opts:    opts,
		sink:    sink,
		actions: actions,
		log:     zap.S().Named("router"),
	}
}

// Start 为每个账号启动会话并阻塞到全部结束。未配置账号时启动一个匿名会话，登录后注册
//
// 任一会话返回非致命错误时停止其余会话
func (r *Router) Start(ctx context.Context, accounts []config.Account) error {
	if len(accounts) == 0 {
		r.log.Info("未配置账号，等待协议端登录")
		accounts = []config.Account{config.Anonymous()}
	}

	sessions := make([]*bot.Session, 0, len(accounts))
	for _, acc := range accounts {
		client, err := r.opts.NewClient(acc)
		if err != nil {
			return fmt.Errorf("账号 %d: %w", acc.Uin, err)
		}
		s := bot.New(client, acc.Uin, r.deps, r.opts.Session)
		if acc.Uin != 0 {
			r.register(s)
		}
		sessions = append(sessions, s)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			return r.run(ctx, s)
		})
	}
	return g.Wait()
}

func (r *Router) run(ctx context.Context, s *bot.Session) error {
	r.running.Store(s, struct{}{})
	defer r.running.Delete(s)

	err := s.Run(ctx, r.push, r.register)
	r.unregister(s)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, platform.ErrLoginFatal):
		r.log.Errorf("账号 %d 登录失败，已移除: %v", s.UserID(), err)
		return nil
	}
	r.log.Errorf("账号 %d 会话异常退出: %v", s.UserID(), err)
	return fmt.Errorf("账号 %d: %w", s.UserID(), err)
}

func (r *Router) register(s *bot.Session) {
	uin := s.UserID()
	if uin == 0 {
		return
	}
	if exist, loaded := r.sessions.LoadOrStore(uin, s); loaded && exist != s {
		r.log.Warnf("账号 %d 已由其他会话登录，忽略", uin)
		return
	}
	r.log.Infof("账号 %d 已注册", uin)
	OnlineAccounts.Set(float64(r.sessions.Len()))
}

func (r *Router) unregister(s *bot.Session) {
	if r.sessions.CompareAndDelete(s.UserID(), s) {
		OnlineAccounts.Set(float64(r.sessions.Len()))
	}
}

func (r *Router) push(ev *types.Event) {
	EventTotal.WithLabelValues(ev.Type()).Inc()
	r.sink.Push(ev)
}

// Session 按账号查找会话
func (r *Router) Session(uin int64) (*bot.Session, bool) {
	return r.sessions.Load(uin)
}

// Sessions 已注册的会话，按账号排序
func (r *Router) Sessions() []*bot.Session {
	var out []*bot.Session
	r.sessions.Range(func(_ int64, s *bot.Session) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID() < out[j].UserID() })
	return out
}

// Status get_status 的返回值
func (r *Router) Status() map[string]any {
	var running []*bot.Session
	r.running.Range(func(s *bot.Session, _ struct{}) bool {
		running = append(running, s)
		return true
	})
	sort.Slice(running, func(i, j int) bool { return running[i].UserID() < running[j].UserID() })
	bots := make([]map[string]any, 0, len(running))
	for _, s := range running {
		bots = append(bots, s.Status())
	}
	return map[string]any{"good": true, "bots": bots}
}

// Call 执行动作，总是返回响应
func (r *Router) Call(ctx context.Context, a *types.Action) (resp *types.Resp) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("动作 %s 处理异常: %v\n%s", a.Action, p, debug.Stack())
			resp = types.Failed(types.InternalHandler("panic: %v", p))
		}
		resp.WithEcho(a.Echo)
		label := a.Action
		if !r.actions[label] {
			label = "unknown"
		}
		ActionTotal.WithLabelValues(label, strconv.FormatInt(resp.Retcode, 10)).Inc()
	}()

	switch a.Action {
	case "get_version":
		return types.OK(types.VersionInfo())
	case "get_status":
		return types.OK(r.Status())
	}

	s, err := r.route(a)
	if err != nil {
		return types.Failed(err)
	}
	data, err := s.Handle(ctx, a)
	if err != nil {
		return types.Failed(err)
	}
	return types.OK(data)
}

func (r *Router) route(a *types.Action) (*bot.Session, error) {
	if a.Self != nil && a.Self.UserID != "" {
		if a.Self.Platform != "" && a.Self.Platform != types.PlatformName {
			return nil, types.UnknownSelf(a.Self.Platform + "/" + a.Self.UserID)
		}
		uin, err := strconv.ParseInt(a.Self.UserID, 10, 64)
		if err != nil {
			return nil, types.UnknownSelf(a.Self.UserID)
		}
		s, ok := r.sessions.Load(uin)
		if !ok {
			return nil, types.UnknownSelf(a.Self.UserID)
		}
		return s, nil
	}

	var (
		only  *bot.Session
		count int
	)
	r.sessions.Range(func(_ int64, s *bot.Session) bool {
		only = s
		count++
		return count < 2
	})
	switch count {
	case 0:
		return nil, types.UnknownSelf("")
	case 1:
		return only, nil
	}
	return nil, types.BadParam("self_id required")
}
