package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os/exec"
	"sync"
	"testing"
)

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
	block  chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, data []byte) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, data)
	return p.err
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

type failureRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *failureRecorder) hook(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *failureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func TestPlayAudio_DecodesAndPlays(t *testing.T) {
	player := &fakePlayer{}
	a := NewAdapter(player)

	want := []byte("ID3\x03fake-mp3")
	a.PlayAudio(base64.StdEncoding.EncodeToString(want))
	a.Wait()

	if player.count() != 1 {
		t.Fatalf("played = %d, want 1", player.count())
	}
	if !bytes.Equal(player.played[0], want) {
		t.Errorf("data = %q, want %q", player.played[0], want)
	}
}

func TestPlayAudio_DoesNotBlockCaller(t *testing.T) {
	player := &fakePlayer{block: make(chan struct{})}
	a := NewAdapter(player)

	a.PlayAudio(base64.StdEncoding.EncodeToString([]byte("abc")))
	if player.count() != 0 {
		t.Fatal("expected playback to still be pending")
	}

	close(player.block)
	a.Wait()
	if player.count() != 1 {
		t.Errorf("played = %d, want 1", player.count())
	}
}

func TestPlayAudio_FailuresAreReportedNotRaised(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		player  *fakePlayer
	}{
		{"invalid base64", "!!!not base64!!!", &fakePlayer{}},
		{"empty payload", "   ", &fakePlayer{}},
		{"player error", base64.StdEncoding.EncodeToString([]byte("abc")), &fakePlayer{err: errors.New("device busy")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &failureRecorder{}
			a := NewAdapter(tt.player, WithFailureHook(rec.hook))

			a.PlayAudio(tt.payload)
			a.Wait()

			if rec.count() != 1 {
				t.Errorf("failures = %d, want 1", rec.count())
			}
		})
	}
}

type panicPlayer struct{}

func (panicPlayer) Play(context.Context, []byte) error { panic("decoder crashed") }

func TestPlayAudio_RecoversPlayerPanic(t *testing.T) {
	rec := &failureRecorder{}
	a := NewAdapter(panicPlayer{}, WithFailureHook(rec.hook))

	a.PlayAudio(base64.StdEncoding.EncodeToString([]byte("abc")))
	a.Wait()

	if rec.count() != 1 {
		t.Errorf("failures = %d, want 1", rec.count())
	}
}

func TestPlayAudio_NilPlayer(t *testing.T) {
	rec := &failureRecorder{}
	a := NewAdapter(nil, WithFailureHook(rec.hook))
	a.PlayAudio(base64.StdEncoding.EncodeToString([]byte("abc")))
	a.Wait()
	if rec.count() != 1 {
		t.Errorf("failures = %d, want 1", rec.count())
	}
}

func TestDecode(t *testing.T) {
	raw := []byte("hello audio")
	std := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"standard", std, false},
		{"unpadded", base64.RawStdEncoding.EncodeToString(raw), false},
		{"data url", "data:audio/mpeg;base64," + std, false},
		{"surrounding whitespace", "\n" + std + " ", false},
		{"empty", "", true},
		{"garbage", "%%%", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Errorf("Decode = %q, want %q", got, raw)
			}
		})
	}
}

func TestNewCommandPlayer(t *testing.T) {
	if _, err := NewCommandPlayer("   "); err == nil {
		t.Error("expected error for empty command")
	}

	p, err := NewCommandPlayer("mpg123 -q -")
	if err != nil {
		t.Fatalf("NewCommandPlayer: %v", err)
	}
	if p.name != "mpg123" || len(p.args) != 2 {
		t.Errorf("parsed = %q %v", p.name, p.args)
	}
}

func TestCommandPlayer_PipesStdin(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	p, err := NewCommandPlayer("cat")
	if err != nil {
		t.Fatalf("NewCommandPlayer: %v", err)
	}
	if err := p.Play(context.Background(), []byte("audio")); err != nil {
		t.Errorf("Play: %v", err)
	}
}

func TestCommandPlayer_MissingBinary(t *testing.T) {
	p, _ := NewCommandPlayer("definitely-not-a-player-binary-xyz")
	if err := p.Play(context.Background(), []byte("audio")); err == nil {
		t.Error("expected error for missing binary")
	}
}
