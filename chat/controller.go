// Package chat implements the conversation controller: it owns the in-memory
// message list of one open conversation, drives the Idle/Awaiting state
// machine around backend queries, and keeps the session store, chart
// surfaces, and audio output in step with the conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/logger"
	"github.com/minesight/analyst/metrics"
	"github.com/minesight/analyst/session"
)

var (
	ErrBlankQuery = errors.New("query is blank")
	ErrAwaiting   = errors.New("a query is already in flight")
)

type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting"
)

const (
	// titleLength is the rune length of a session title derived from the
	// first question.
	titleLength = 30

	WelcomeText = "Hello! I'm your mining operations assistant. Ask me about equipment status, production efficiency, safety incidents, or maintenance."
	ApologyText = "Sorry, I encountered an error processing your request. Please try again."
)

// Upload kinds.
const (
	KindTabular  = "tabular"
	KindDocument = "document"
)

// QueryService is the backend the controller asks questions of.
type QueryService interface {
	SendQuery(ctx context.Context, question, language string, wantAudio bool) (*analytics.QueryResult, error)
	UploadFile(ctx context.Context, filename string, content io.Reader, docType string) (*analytics.UploadResult, error)
}

// AudioPlayer plays base64 audio without blocking.
type AudioPlayer interface {
	PlayAudio(payload string)
}

// ChartRenderer binds chart data to named surfaces.
type ChartRenderer interface {
	Render(surfaceID string, records []*chart.Record, kind chart.Kind) error
	Destroy(surfaceID string)
}

// View is told about message list changes. MessagesChanged runs before any
// chart of the new list is rendered, so it is the place to create surfaces.
type View interface {
	MessagesChanged(msgs []session.Message)
	ScrollToLatest()
}

// Controller drives one open conversation.
type Controller struct {
	store   session.Store
	service QueryService
	audio   AudioPlayer
	charts  ChartRenderer
	view    View
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.Mutex
	state        State
	messages     []session.Message
	sessionID    string
	language     string
	audioEnabled bool
	// generation changes whenever the message list is replaced, so a
	// response that arrives afterwards is not mixed into the new list.
	generation int
	seen       *seenSet
}

type Option func(*Controller)

func WithAudio(a AudioPlayer) Option        { return func(c *Controller) { c.audio = a } }
func WithCharts(r ChartRenderer) Option     { return func(c *Controller) { c.charts = r } }
func WithView(v View) Option                { return func(c *Controller) { c.view = v } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithLanguage sets the initial language tag.
func WithLanguage(lang string) Option { return func(c *Controller) { c.language = lang } }

// WithAudioEnabled sets whether answers are requested with audio.
func WithAudioEnabled(on bool) Option { return func(c *Controller) { c.audioEnabled = on } }

func NewController(store session.Store, service QueryService, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		service:  service,
		now:      time.Now,
		state:    StateIdle,
		language: "en",
		seen:     newSeenSet(64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.messages = []session.Message{c.welcome()}
	return c
}

func (c *Controller) welcome() session.Message {
	return session.Message{Role: session.RoleAssistant, Content: WelcomeText, Timestamp: c.now(), Type: "greeting"}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the current message list.
func (c *Controller) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Controller) SetLanguage(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = lang
}

func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

func (c *Controller) SetAudio(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = on
}

// NewConversation drops the current conversation and starts a fresh one.
// The next submitted question creates a new session.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	old := c.messages
	c.generation++
	c.sessionID = ""
	c.messages = []session.Message{c.welcome()}
	snapshot := slices.Clone(c.messages)
	c.mu.Unlock()

	c.destroyCharts(old)
	c.notify(snapshot)
}

// Submit sends query to the backend and integrates the answer. It blocks
// until the answer (or a failure message) is in the message list.
// It returns ErrBlankQuery or ErrAwaiting without side effects when the
// query is rejected; backend failures are reported as messages, not errors.
func (c *Controller) Submit(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return ErrBlankQuery
	}

	c.mu.Lock()
	if c.state == StateAwaiting {
		c.mu.Unlock()
		return ErrAwaiting
	}

	c.messages = append(c.messages, session.Message{
		Role:      session.RoleUser,
		Content:   query,
		Timestamp: c.now(),
	})
	userMsg := c.messages[len(c.messages)-1]

	if c.sessionID == "" {
		sess, err := c.store.Create(query, c.language)
		if err != nil {
			slog.Error("failed to create session", "error", err)
		} else {
			c.sessionID = sess.ID
		}
	}
	sessionID := c.sessionID
	if sessionID != "" {
		if err := c.store.Append(sessionID, userMsg); err != nil {
			slog.Error("failed to persist user message", "sessionId", sessionID, "error", err)
		}
		if c.isFirstExchange(sessionID) {
			if err := c.store.Rename(sessionID, titleFromQuery(query)); err != nil {
				slog.Warn("failed to rename session", "sessionId", sessionID, "error", err)
			}
		}
	}

	c.state = StateAwaiting
	gen := c.generation
	language := c.language
	wantAudio := c.audioEnabled
	snapshot := slices.Clone(c.messages)
	c.mu.Unlock()

	c.notify(snapshot)

	log := slog.With("sessionId", sessionID, "language", language)
	log.Info("submitting query", "query", logger.Truncate(query, 80), "audio", wantAudio)

	start := c.now()
	result, err := c.callService(ctx, query, language, wantAudio)
	elapsed := c.now().Sub(start)

	var (
		reply   session.Message
		persist bool
		outcome string
	)
	switch {
	case err != nil:
		log.Warn("query failed, showing offline data", "error", err, "transport", analytics.IsTransport(err))
		reply = fallbackMessage(c.now())
		outcome = metrics.OutcomeTransport
	case !result.Success:
		log.Warn("backend reported failure", "error", result.Error)
		reply = session.Message{Role: session.RoleAssistant, Content: ApologyText, Timestamp: c.now(), Type: "error"}
		persist = true
		outcome = metrics.OutcomeReported
	default:
		reply = assistantMessage(result.Response, c.now())
		persist = true
		outcome = metrics.OutcomeSuccess
	}
	c.metrics.RecordQuery(outcome, elapsed)

	if persist && sessionID != "" {
		if err := c.store.Append(sessionID, reply); err != nil {
			log.Error("failed to persist assistant message", "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	if gen != c.generation {
		c.mu.Unlock()
		log.Info("conversation replaced while awaiting, answer kept in session only")
		return nil
	}
	c.messages = append(c.messages, reply)
	index := len(c.messages) - 1
	snapshot = slices.Clone(c.messages)
	c.mu.Unlock()

	c.notify(snapshot)
	c.renderCharts(index, reply)

	if outcome == metrics.OutcomeSuccess && wantAudio && reply.Audio.Playable() && c.audio != nil {
		c.audio.PlayAudio(reply.Audio.AudioBase64)
	}
	return nil
}

// isFirstExchange reports whether the session holds exactly one persisted
// message, the user message just appended. Status messages shown only in
// memory do not count.
func (c *Controller) isFirstExchange(sessionID string) bool {
	sess, found, err := c.store.Load(sessionID)
	if err != nil || !found {
		return false
	}
	return len(sess.Messages) == 1
}

// callService shields the state machine from a panicking service.
func (c *Controller) callService(ctx context.Context, query, language string, wantAudio bool) (res *analytics.QueryResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "query service panicked")
			res, err = nil, fmt.Errorf("query service panicked: %v", r)
		}
	}()
	res, err = c.service.SendQuery(ctx, query, language, wantAudio)
	if err == nil && res == nil {
		err = errors.New("empty query result")
	}
	return res, err
}

func assistantMessage(resp *analytics.Response, ts time.Time) session.Message {
	return session.Message{
		Role:            session.RoleAssistant,
		Content:         resp.Answer,
		Timestamp:       ts,
		Type:            resp.Type,
		Visualizations:  resp.Visualizations,
		Recommendations: resp.Recommendations,
		Sources:         resp.Sources,
		Audio:           resp.Audio,
	}
}

// LoadSession replaces the conversation with a stored session.
func (c *Controller) LoadSession(sessionID string) error {
	sess, found, err := c.store.Load(sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !found {
		return session.ErrSessionNotFound
	}

	c.mu.Lock()
	old := c.messages
	c.generation++
	c.sessionID = sess.ID
	c.messages = sess.Messages
	if sess.Language != "" {
		c.language = sess.Language
	}
	snapshot := slices.Clone(c.messages)
	c.mu.Unlock()

	c.destroyCharts(old)
	c.notify(snapshot)
	for i, msg := range snapshot {
		c.renderCharts(i, msg)
	}
	if c.view != nil {
		c.view.ScrollToLatest()
	}

	slog.Info("session loaded", "sessionId", sess.ID, "messages", len(snapshot))
	return nil
}

// InferKind maps a filename to an upload kind: .csv is tabular, anything
// else a document.
func InferKind(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return KindTabular
	}
	return KindDocument
}

// UploadFile sends a file for ingestion and reports the outcome as a status
// message. It runs independently of the query state machine and of session
// persistence. The returned error mirrors a failure already reported in the
// message list.
func (c *Controller) UploadFile(ctx context.Context, filename string, content io.Reader) error {
	kind := InferKind(filename)
	name := filepath.Base(filename)

	result, err := c.service.UploadFile(ctx, name, content, kind)

	var text string
	switch {
	case err != nil:
		text = fmt.Sprintf("Failed to upload %q: the analytics service is unreachable.", name)
		err = fmt.Errorf("upload %s: %w", name, err)
	case result == nil:
		text = fmt.Sprintf("Failed to upload %q: the analytics service returned no result.", name)
		err = fmt.Errorf("upload %s: empty upload result", name)
	case !result.Success:
		reason := result.Error
		if reason == "" {
			reason = "ingestion failed"
		}
		text = fmt.Sprintf("Failed to upload %q: %s.", name, reason)
		err = fmt.Errorf("upload %s: %s", name, reason)
	default:
		text = fmt.Sprintf("Uploaded %q as %s data. You can now ask questions about it.", name, kind)
	}
	c.metrics.RecordUpload(kind, err == nil)
	slog.Info("file upload finished", "file", name, "kind", kind, "ok", err == nil)

	c.mu.Lock()
	c.messages = append(c.messages, session.Message{
		Role:      session.RoleAssistant,
		Content:   text,
		Timestamp: c.now(),
		Type:      "upload",
	})
	snapshot := slices.Clone(c.messages)
	c.mu.Unlock()

	c.notify(snapshot)
	return err
}

func (c *Controller) notify(msgs []session.Message) {
	if c.view == nil {
		return
	}
	c.view.MessagesChanged(msgs)
}

// renderCharts draws every chart of msg, in chart name order, on surfaces
// keyed by the message index.
func (c *Controller) renderCharts(index int, msg session.Message) {
	if c.charts == nil || !msg.Visualizations.HasCharts() {
		return
	}
	for _, name := range chartNames(msg) {
		kind := chart.KindFor(name)
		if err := c.charts.Render(chart.SurfaceID(index, name), msg.Visualizations.Charts[name], kind); err != nil {
			slog.Warn("failed to render chart", "chart", name, "error", err)
			continue
		}
		c.metrics.RecordChartRender(string(kind))
	}
}

func (c *Controller) destroyCharts(msgs []session.Message) {
	if c.charts == nil {
		return
	}
	for i, msg := range msgs {
		if !msg.Visualizations.HasCharts() {
			continue
		}
		for _, name := range chartNames(msg) {
			c.charts.Destroy(chart.SurfaceID(i, name))
		}
	}
}

func chartNames(msg session.Message) []string {
	if !msg.Visualizations.HasCharts() {
		return nil
	}
	names := make([]string, 0, len(msg.Visualizations.Charts))
	for name := range msg.Visualizations.Charts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func titleFromQuery(q string) string {
	runes := []rune(strings.TrimSpace(q))
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes)
}
