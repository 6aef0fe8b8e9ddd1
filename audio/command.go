package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandPlayer pipes audio into an external player binary's stdin,
// e.g. "mpg123 -q -".
type CommandPlayer struct {
	name string
	args []string
}

var _ Player = (*CommandPlayer)(nil)

// NewCommandPlayer parses a whitespace-separated command line.
func NewCommandPlayer(cmdline string) (*CommandPlayer, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("empty audio player command")
	}
	return &CommandPlayer{name: fields[0], args: fields[1:]}, nil
}

func (p *CommandPlayer) Play(ctx context.Context, data []byte) error {
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Stdin = bytes.NewReader(data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", p.name, err, msg)
		}
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

// Discard is a Player that accepts audio and plays nothing.
type Discard struct{}

func (Discard) Play(ctx context.Context, data []byte) error { return ctx.Err() }
