// Package bot 单个 QQ 账号的会话：事件泵、动作分发与权限检查
package bot

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sealdice/sealbridge/convert"
	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
	"github.com/sealdice/sealbridge/utils"
)

// Sink 接收会话产生的 OneBot 事件
type Sink func(ev *types.Event)

// LoginFunc 账号登录完成时调用，匿名会话借此得知自己的账号
type LoginFunc func(s *Session)

type Options struct {
	InfosTTL time.Duration
	// 每秒允许发送的消息数，0 表示不限制
	SendRate   float64
	SendBurst  int
	RecentSize int
	// 分片上传的有效期，从 prepare 开始计算
	FragmentTTL time.Duration
}

func (o *Options) defaults() {
	if o.InfosTTL <= 0 {
		o.InfosTTL = DefaultInfosTTL
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 5
	}
	if o.RecentSize <= 0 {
		o.RecentSize = database.DefaultRecentSize
	}
	if o.FragmentTTL <= 0 {
		o.FragmentTTL = time.Minute
	}
}

// Deps 各会话共享的组件
type Deps struct {
	Normalizer *convert.Normalizer
	Media      *storage.Media
	DB         *database.DB
}

type Session struct {
	uin      atomic.Int64
	nickname atomic.Pointer[string]
	online   atomic.Bool

	client platform.Client
	norm   *convert.Normalizer
	tr     *convert.Translator
	media  *storage.Media
	db     *database.DB
	recent *database.Recent

	infos atomic.Pointer[Infos]
	sf    singleflight.Group

	requests  utils.SyncMap[string, *types.Event]
	fragments *ttlcache.Cache[string, *fragment]
	limiter   *rate.Limiter

	opts Options
	log  *zap.SugaredLogger

	stopOnce sync.Once
}

// New 创建会话，uin 为 0 时等待协议端登录后确定
func New(client platform.Client, uin int64, deps Deps, opts Options) *Session {
	opts.defaults()
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	s := &Session{
		client: client,
		norm:   deps.Normalizer,
		tr:     deps.Normalizer.Translator(),
		media:  deps.Media,
		db:     deps.DB,
		recent: database.NewRecent(opts.RecentSize),
		fragments: ttlcache.New(
			ttlcache.WithTTL[string, *fragment](opts.FragmentTTL),
			ttlcache.WithDisableTouchOnHit[string, *fragment](),
		),
		limiter: rate.NewLimiter(limit, opts.SendBurst),
		opts:    opts,
		log:     zap.S().Named("bot"),
	}
	s.uin.Store(uin)
	s.fragments.OnEviction(s.onFragmentEvicted)
	return s
}

func (s *Session) UserID() int64 { return s.uin.Load() }

func (s *Session) SelfID() string { return strconv.FormatInt(s.UserID(), 10) }

func (s *Session) Nickname() string {
	if n := s.nickname.Load(); n != nil {
		return *n
	}
	return ""
}

func (s *Session) Online() bool { return s.online.Load() }

func (s *Session) Client() platform.Client { return s.client }

// Run 运行协议端并转发事件，直到 ctx 结束或协议端返回错误
func (s *Session) Run(ctx context.Context, sink Sink, onLogin LoginFunc) error {
	go s.fragments.Start()
	defer s.stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		s.pump(ctx, sink, onLogin)
	}()

	err := s.client.Run(ctx)
	cancel()
	<-pumped
	return err
}

func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.fragments.Stop()
		s.online.Store(false)
	})
}

func (s *Session) pump(ctx context.Context, sink Sink, onLogin LoginFunc) {
	events := s.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(ctx, ev, sink, onLogin)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev platform.Event, sink Sink, onLogin LoginFunc) {
	switch e := ev.(type) {
	case *platform.LoginSuccess:
		if s.UserID() == 0 {
			s.uin.Store(e.Uin)
		} else if e.Uin != 0 && e.Uin != s.UserID() {
			s.log.Warnf("协议端登录账号 %d 与配置 %d 不一致", e.Uin, s.UserID())
		}
		nick := e.Nickname
		s.nickname.Store(&nick)
		s.online.Store(true)
		if onLogin != nil {
			onLogin(s)
		}
		s.log.Infof("账号 %d(%s) 已登录", s.UserID(), nick)
		go func() {
			if _, err := s.Update(ctx); err != nil {
				s.log.Warnf("账号 %d 获取群与好友列表失败: %v", s.UserID(), err)
			}
		}()
	case *platform.Disconnected:
		s.online.Store(false)
		s.log.Warnf("账号 %d 连接断开: %s", s.UserID(), e.Reason)
	case *platform.ForcedOffline:
		s.online.Store(false)
		s.log.Warnf("账号 %d 被强制下线: %s", s.UserID(), e.Reason)
	case *platform.MemberPermissionChanged:
		if e.UserID == s.UserID() {
			go func() {
				if _, err := s.Update(ctx); err != nil {
					s.log.Warnf("刷新权限失败: %v", err)
				}
			}()
		}
	}

	out := s.norm.Normalize(s.UserID(), ev)
	if out == nil {
		return
	}
	if req, ok := out.Content.(*types.RequestContent); ok {
		s.requests.Store(req.RequestID, out)
	}
	s.publish(sink, out)
}

func (s *Session) publish(sink Sink, ev *types.Event) {
	s.recent.Push(ev)
	if sink != nil {
		sink(ev)
	}
}

// Status OneBot 状态中的单个机器人
func (s *Session) Status() map[string]any {
	return map[string]any{
		"self":   types.Self{Platform: types.PlatformName, UserID: s.SelfID()},
		"online": s.Online(),
	}
}
