// Package audio plays synthesized speech attached to assistant answers.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/minesight/analyst/logger"
)

var ErrEmptyPayload = errors.New("empty audio payload")

// DefaultTimeout bounds a single playback.
const DefaultTimeout = 2 * time.Minute

// Player plays decoded audio bytes. Play blocks until playback finishes.
type Player interface {
	Play(ctx context.Context, data []byte) error
}

// Adapter decodes base64 payloads and hands them to a Player in the
// background. Failures are logged and reported through the failure hook,
// never returned to the caller.
type Adapter struct {
	player    Player
	timeout   time.Duration
	onFailure func(error)

	wg sync.WaitGroup
}

type Option func(*Adapter)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithFailureHook registers fn to be called for every decode or playback failure.
func WithFailureHook(fn func(error)) Option {
	return func(a *Adapter) { a.onFailure = fn }
}

func NewAdapter(player Player, opts ...Option) *Adapter {
	a := &Adapter{player: player, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PlayAudio decodes payload and starts playback without waiting for it.
func (a *Adapter) PlayAudio(payload string) {
	data, err := Decode(payload)
	if err != nil {
		a.fail(fmt.Errorf("decode audio: %w", err))
		return
	}
	if a.player == nil {
		a.fail(errors.New("no audio player configured"))
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.LogPanic(r, "audio playback panicked")
				a.fail(fmt.Errorf("audio playback panicked: %v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		start := time.Now()
		if err := a.player.Play(ctx, data); err != nil {
			a.fail(fmt.Errorf("play audio: %w", err))
			return
		}
		slog.Debug("audio played", "bytes", len(data), "elapsed", time.Since(start))
	}()
}

// Wait blocks until every playback started so far has finished.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

func (a *Adapter) fail(err error) {
	slog.Warn("audio playback failed", "error", err)
	if a.onFailure != nil {
		a.onFailure(err)
	}
}

// Decode accepts standard base64, with or without padding, and an optional
// data URL prefix.
func Decode(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return data, nil
}
