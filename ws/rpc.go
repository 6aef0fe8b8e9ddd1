package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/chat"
	"github.com/minesight/analyst/event"
	"github.com/minesight/analyst/logger"
	"github.com/minesight/analyst/metrics"
	"github.com/minesight/analyst/rpc"
	"github.com/minesight/analyst/session"
	"github.com/minesight/analyst/settings"
	"github.com/minesight/analyst/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// Backend is the analytics service as seen by the shell.
type Backend interface {
	chat.QueryService
	Languages(ctx context.Context) (map[string]string, error)
	QuickActions(ctx context.Context) ([]analytics.QuickAction, error)
}

// Deps are the shared services every connection works against.
type Deps struct {
	Sessions session.Store
	Settings *settings.Store
	Backend  Backend
	// Audio plays spoken answers; nil disables playback.
	Audio   chat.AudioPlayer
	Metrics *metrics.Metrics
	// ChartDir holds one directory of rendered chart surfaces per connection.
	ChartDir string
}

// RPCHandler handles JSON-RPC 2.0 over WebSocket.
type RPCHandler struct {
	token   string
	version string
	title   string
	devMode bool
	deps    Deps

	settingsWatcher    *watch.SettingsWatcher
	sessionListWatcher *watch.SessionListWatcher
}

func NewRPCHandler(token, version, title string, devMode bool, deps Deps) *RPCHandler {
	settingsWatcher := watch.NewSettingsWatcher(deps.Settings)
	settingsWatcher.Start()

	sessionListWatcher := watch.NewSessionListWatcher(deps.Sessions)
	sessionListWatcher.Start()

	return &RPCHandler{
		token:              token,
		version:            version,
		title:              title,
		devMode:            devMode,
		deps:               deps,
		settingsWatcher:    settingsWatcher,
		sessionListWatcher: sessionListWatcher,
	}
}

// Stop stops the RPC handler and releases resources.
func (h *RPCHandler) Stop() {
	h.settingsWatcher.Stop()
	h.sessionListWatcher.Stop()
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.handleConnection(r.Context(), conn)
}

func (h *RPCHandler) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	stream := newWebSocketStream(wsConn)
	connID := uuid.Must(uuid.NewV7()).String()
	h.HandleStream(ctx, stream, connID)
}

func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "websocket connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)
	log.Info("new connection")

	state := &rpcConnState{
		connID: connID,
		log:    log,
		// conversation is set after auth
	}

	handler := &rpcMethodHandler{
		RPCHandler:    h,
		state:         state,
		log:           log,
		authenticated: false,
	}

	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	state.setConn(rpcConn)

	<-rpcConn.DisconnectNotify()

	state.cleanup(h.deps.Metrics)
	log.Info("connection closed")
}

// conversation is the per-connection conversation: a controller with its
// chart surfaces and message subscribers.
type conversation struct {
	controller *chat.Controller
	messages   *watch.ChatMessagesWatcher
	renderer   *chart.Renderer
	bus        *event.Bus
	chartDir   string
	detach     func()
}

func (h *RPCHandler) newConversation(ctx context.Context, connID string) (*conversation, error) {
	chartDir := filepath.Join(h.deps.ChartDir, connID)
	engine, err := chart.NewHTMLEngine(chartDir)
	if err != nil {
		return nil, err
	}
	renderer := chart.NewRenderer(engine)
	messages := watch.NewChatMessagesWatcher(engine)

	prefs := h.deps.Settings.Get()

	opts := []chat.Option{
		chat.WithCharts(renderer),
		chat.WithView(messages),
		chat.WithMetrics(h.deps.Metrics),
		chat.WithLanguage(prefs.Language),
		chat.WithAudioEnabled(prefs.Audio),
	}
	if h.deps.Audio != nil {
		opts = append(opts, chat.WithAudio(h.deps.Audio))
	}
	controller := chat.NewController(h.deps.Sessions, h.deps.Backend, opts...)

	bus := event.NewBus()
	detach := controller.Attach(ctx, bus)

	return &conversation{
		controller: controller,
		messages:   messages,
		renderer:   renderer,
		bus:        bus,
		chartDir:   chartDir,
		detach:     detach,
	}, nil
}

func (c *conversation) close() {
	c.detach()
	c.messages.Stop()
	c.renderer.Close()
	if err := os.RemoveAll(c.chartDir); err != nil {
		slog.Warn("failed to remove chart directory", "dir", c.chartDir, "error", err)
	}
}

// rpcConnState tracks per-connection state.
type rpcConnState struct {
	mu            sync.Mutex
	connID        string
	conn          *jsonrpc2.Conn
	notifier      *JSONRPCNotifier
	log           *slog.Logger
	conversation  *conversation            // set after auth
	subscriptions map[string]watch.Watcher // subID → watcher for cleanup
}

func (s *rpcConnState) getConversation() *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

func (s *rpcConnState) setConn(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.notifier = NewJSONRPCNotifier(conn)
	s.subscriptions = make(map[string]watch.Watcher)
	s.mu.Unlock()
}

func (s *rpcConnState) getNotifier() watch.Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

func (s *rpcConnState) trackSubscription(id string, watcher watch.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[id] = watcher
}

func (s *rpcConnState) untrackSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id)
}

func (s *rpcConnState) cleanup(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Unsubscribe all tracked subscriptions
	for id, watcher := range s.subscriptions {
		watcher.Unsubscribe(id)
	}
	s.subscriptions = nil

	if s.conversation == nil {
		return // Not authenticated yet (e.g., connection closed before auth)
	}

	s.conversation.close()
	s.conversation = nil
	m.ConversationClosed()
}

type rpcMethodHandler struct {
	*RPCHandler
	state         *rpcConnState
	log           *slog.Logger
	authenticated bool
	authMu        sync.Mutex
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method, "connId", h.state.connID)
		}
	}()

	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	// Methods that don't need the conversation
	switch req.Method {
	case "settings.get":
		h.handleSettingsGet(ctx, conn, req)
		return
	case "settings.subscribe":
		h.handleSettingsSubscribe(ctx, conn, req)
		return
	case "settings.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.settingsWatcher, "settings")
		return
	case "settings.update":
		h.handleSettingsUpdate(ctx, conn, req)
		return
	case "session.rename":
		h.handleSessionRename(ctx, conn, req)
		return
	case "session.list.subscribe":
		h.handleSessionListSubscribe(ctx, conn, req)
		return
	case "session.list.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.sessionListWatcher, "session list")
		return
	case "languages.list":
		h.handleLanguagesList(ctx, conn, req)
		return
	case "quick_actions.list":
		h.handleQuickActionsList(ctx, conn, req)
		return
	}

	conv := h.state.getConversation()
	if conv == nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "no conversation")
		return
	}

	switch req.Method {
	// chat namespace
	case "chat.submit":
		h.handleChatSubmit(ctx, conn, req, conv)
	case "chat.suggest":
		h.handleChatSuggest(ctx, conn, req, conv)
	case "chat.upload":
		h.handleChatUpload(ctx, conn, req, conv)
	case "chat.new":
		h.handleChatNew(ctx, conn, req, conv)
	case "chat.state":
		h.handleChatState(ctx, conn, req, conv)
	case "chat.set_language":
		h.handleChatSetLanguage(ctx, conn, req, conv)
	case "chat.set_audio":
		h.handleChatSetAudio(ctx, conn, req, conv)
	case "chat.messages.subscribe":
		h.handleChatMessagesSubscribe(ctx, conn, req, conv)
	case "chat.messages.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, conv.messages, "chat-messages")
	// session namespace
	case "session.load":
		h.handleSessionLoad(ctx, conn, req, conv)
	case "session.delete":
		h.handleSessionDelete(ctx, conn, req, conv)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.authenticated
}

func (h *rpcMethodHandler) setAuthenticated() {
	h.authMu.Lock()
	h.authenticated = true
	h.authMu.Unlock()
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(h.token)) != 1 {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	// The conversation outlives this request, so it gets its own context.
	conv, err := h.newConversation(context.WithoutCancel(ctx), h.state.connID)
	if err != nil {
		h.log.Error("failed to start conversation", "error", err)
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to start conversation")
		conn.Close()
		return
	}

	h.state.mu.Lock()
	h.state.conversation = conv
	h.state.mu.Unlock()
	h.deps.Metrics.ConversationOpened()

	h.setAuthenticated()
	h.log.Info("authenticated")

	result := rpc.AuthResult{
		Version:  h.version,
		Title:    h.title,
		Language: conv.controller.Language(),
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}

type unsubscribeParams struct {
	ID string `json:"id"`
}

func (h *rpcMethodHandler) handleWatcherUnsubscribe(
	ctx context.Context,
	conn *jsonrpc2.Conn,
	req *jsonrpc2.Request,
	watcher watch.Watcher,
	logName string,
) {
	var params unsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.ID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "id is required")
		return
	}

	watcher.Unsubscribe(params.ID)
	h.state.untrackSubscription(params.ID)
	h.log.Debug("unsubscribed", "watcher", logName, "watchId", params.ID)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send "+logName+" unsubscribe response", "error", err)
	}
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		// Treat normal close frames as EOF so jsonrpc2 shuts down gracefully
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Ensure webSocketStream implements ObjectStream
var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
