// Package ob11 通过 OneBot 11 websocket（正向或反向）连接 QQ 协议实现
package ob11

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sealdice/sealbridge/platform"
)

const actionTimeout = 15 * time.Second

type sessionRole string

const (
	roleEvent   sessionRole = "event"
	roleAPI     sessionRole = "api"
	roleUnified sessionRole = "unified"
)

// Config 连接参数，两种方式至少配置一种
type Config struct {
	WSReverse   string `yaml:"ws_reverse"`
	WSForward   string `yaml:"ws_forward"`
	AccessToken string `yaml:"access_token"`
	Secret      string `yaml:"secret"`
}

// Client OneBot 11 协议端
type Client struct {
	cfg Config
	// 期望登录的账号，为 0 时接受任意账号
	uin int64

	log *zap.SugaredLogger

	running atomic.Bool
	selfID  atomic.Int64

	apiSession   atomic.Pointer[session]
	eventSession atomic.Pointer[session]

	requestSeq atomic.Uint64
	pending    sync.Map // map[string]chan apiResponse

	events  chan platform.Event
	fatal   chan error
	closeMu sync.Mutex
	cancel  context.CancelFunc
}

var _ platform.Client = (*Client)(nil)

func New(cfg Config, uin int64) *Client {
	return &Client{
		cfg:    cfg,
		uin:    uin,
		log:    zap.S().Named("ob11"),
		events: make(chan platform.Event, 256),
		fatal:  make(chan error, 1),
	}
}

// session 一条 websocket 连接
type session struct {
	conn      *websocket.Conn
	role      sessionRole
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, role sessionRole) *session {
	return &session{conn: conn, role: role}
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Events 事件通道，不会被关闭
func (c *Client) Events() <-chan platform.Event { return c.events }

// Alive 至少存在一条连接
func (c *Client) Alive() bool {
	return c.running.Load()
}

// Run 启动反向连接和/或正向监听，直到 ctx 结束或登录失败
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.WSReverse == "" && c.cfg.WSForward == "" {
		return fmt.Errorf("%w: neither ws_reverse nor ws_forward configured", platform.ErrLoginFatal)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.closeMu.Lock()
	c.cancel = cancel
	c.closeMu.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	if c.cfg.WSReverse != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loopReverse(ctx)
		}()
	}
	if c.cfg.WSForward != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.listenForward(ctx)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-c.fatal:
	}
	cancel()
	c.shutdown()
	wg.Wait()
	return err
}

// Close 结束 Run
func (c *Client) Close() error {
	c.closeMu.Lock()
	cancel := c.cancel
	c.closeMu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	api := c.apiSession.Swap(nil)
	event := c.eventSession.Swap(nil)
	if api != nil {
		c.failPending(errors.New("ob11 client closed"))
		api.close()
	}
	if event != nil && event != api {
		event.close()
	}
	c.running.Store(false)
}

func (c *Client) emit(ctx context.Context, ev platform.Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) loopReverse(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connectReverse(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				c.log.Warnf("反向 ws 连接失败: %v", err)
			}
		} else {
			backoff = time.Second
		}

		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) connectReverse(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	if c.cfg.Secret != "" {
		header.Set("X-Self-Secret", c.cfg.Secret)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSReverse, header)
	if err != nil {
		return err
	}
	s := newSession(conn, roleUnified)
	c.attach(ctx, s)
	err = c.consume(ctx, s)
	c.detach(ctx, s, err)
	return err
}

func (c *Client) listenForward(ctx context.Context) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if ctx.Err() != nil {
			http.Error(w, "client shutting down", http.StatusServiceUnavailable)
			return
		}

		if c.cfg.AccessToken != "" {
			token := r.Header.Get("Authorization")
			token = strings.TrimPrefix(token, "Bearer ")
			if token == "" {
				token = r.URL.Query().Get("access_token")
			}
			if token != c.cfg.AccessToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		role := determineRole(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.log.Warnf("正向 ws 升级失败: %v", err)
			return
		}

		s := newSession(conn, role)
		c.attach(ctx, s)
		err = c.consume(ctx, s)
		c.detach(ctx, s, err)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debugf("正向 ws 断开: %v", err)
		}
	})

	server := &http.Server{
		Addr:    c.cfg.WSForward,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.log.Errorf("正向 ws 监听失败: %v", err)
	}
}

func determineRole(r *http.Request) sessionRole {
	switch strings.ToLower(r.Header.Get("X-Client-Role")) {
	case "event":
		return roleEvent
	case "api":
		return roleAPI
	case "universal":
		return roleUnified
	}

	path := strings.ToLower(r.URL.Path)
	switch {
	case strings.Contains(path, "api"):
		return roleAPI
	case strings.Contains(path, "event"):
		return roleEvent
	default:
		return roleUnified
	}
}

func (c *Client) consume(ctx context.Context, s *session) error {
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := c.dispatchFrame(ctx, payload); err != nil {
			c.log.Debugf("帧处理失败: %v", err)
		}
	}
}

func (c *Client) attach(ctx context.Context, s *session) {
	switch s.role {
	case roleAPI:
		if old := c.apiSession.Swap(s); old != nil && old != s {
			old.close()
		}
	case roleEvent:
		if old := c.eventSession.Swap(s); old != nil && old != s {
			old.close()
		}
	default:
		if old := c.apiSession.Swap(s); old != nil && old != s {
			old.close()
		}
		if old := c.eventSession.Swap(s); old != nil && old != s {
			old.close()
		}
	}

	c.running.Store(true)
	if c.apiSessionOrNil() != nil {
		go c.login(ctx)
	}
}

func (c *Client) detach(ctx context.Context, s *session, cause error) {
	apiCleared := false
	if c.apiSession.Load() == s {
		apiCleared = c.apiSession.CompareAndSwap(s, nil)
	}
	if c.eventSession.Load() == s {
		c.eventSession.CompareAndSwap(s, nil)
	}

	s.close()

	if apiCleared {
		if cause == nil {
			cause = errors.New("ob11 api websocket closed")
		}
		c.failPending(cause)
	}

	if c.apiSession.Load() == nil && c.eventSession.Load() == nil {
		c.running.Store(false)
		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		c.emit(ctx, &platform.Disconnected{Reason: reason})
	}
}

// login 连接建立后确认登录账号
func (c *Client) login(ctx context.Context) {
	c.emit(ctx, &platform.Connected{})

	self, err := c.Self(ctx)
	if err != nil {
		c.log.Warnf("获取登录信息失败: %v", err)
		return
	}
	if c.uin != 0 && self.ID != c.uin {
		err := fmt.Errorf("%w: expected account %d, endpoint logged in as %d", platform.ErrLoginFatal, c.uin, self.ID)
		select {
		case c.fatal <- err:
		default:
		}
		return
	}
	c.selfID.Store(self.ID)
	c.emit(ctx, &platform.LoginSuccess{Uin: self.ID, Nickname: self.Nickname})
}

func (c *Client) failPending(err error) {
	c.pending.Range(func(key, value any) bool {
		ch := value.(chan apiResponse)
		resp := apiResponse{
			Status:  "failed",
			Message: err.Error(),
		}
		select {
		case ch <- resp:
		default:
		}
		c.pending.Delete(key)
		return true
	})
}

func (c *Client) apiSessionOrNil() *session {
	if s := c.apiSession.Load(); s != nil {
		return s
	}
	if s := c.eventSession.Load(); s != nil && s.role == roleUnified {
		return s
	}
	return nil
}

// callAction 发送动作并等待同 echo 的响应
func (c *Client) callAction(ctx context.Context, action string, params map[string]any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s := c.apiSessionOrNil()
	if s == nil {
		return platform.ErrNotConnected
	}

	echo := fmt.Sprintf("seal-%d", c.requestSeq.Add(1))
	respCh := make(chan apiResponse, 1)
	c.pending.Store(echo, respCh)

	payload := map[string]any{
		"action": action,
		"params": params,
		"echo":   echo,
	}

	if err := s.writeJSON(payload); err != nil {
		c.pending.Delete(echo)
		return err
	}

	timer := time.NewTimer(actionTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.pending.Delete(echo)
		return ctx.Err()
	case <-timer.C:
		c.pending.Delete(echo)
		return fmt.Errorf("ob11 %s: action timeout", action)
	case resp := <-respCh:
		if resp.Status != "ok" {
			if resp.RetCode == 1404 {
				return fmt.Errorf("ob11 %s: %w", action, platform.ErrUnsupported)
			}
			if msg := resp.message(); msg != "" {
				return fmt.Errorf("ob11 %s: %s", action, msg)
			}
			return fmt.Errorf("ob11 %s: retcode=%d", action, resp.RetCode)
		}
		if out != nil && len(resp.Data) > 0 && string(resp.Data) != "null" {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return err
			}
		}
		return nil
	}
}
