package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/minesight/analyst/audio"
	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/chat"
	"github.com/minesight/analyst/session"
	"github.com/minesight/analyst/settings"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const chatHelp = `Commands:
  /new             start a new conversation
  /load <id>       continue a stored session
  /sessions        list stored sessions
  /lang [code]     show or set the answer language
  /audio on|off    toggle spoken answers
  /upload <path>   ingest a CSV or document
  /quit            exit`

func chatCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask questions interactively, or once when a question is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg, true)

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			prefs, err := a.openSettings()
			if err != nil {
				return err
			}

			engine, err := chart.NewHTMLEngine(cfg.ChartDir)
			if err != nil {
				return fmt.Errorf("open chart dir: %w", err)
			}
			renderer := chart.NewRenderer(engine)
			defer renderer.Close()

			view := newTerminalView(cmd.OutOrStdout(), engine)
			current := prefs.Get()
			opts := []chat.Option{
				chat.WithCharts(renderer),
				chat.WithView(view),
				chat.WithMetrics(a.metrics),
				chat.WithLanguage(current.Language),
				chat.WithAudioEnabled(current.Audio),
			}

			var adapter *audio.Adapter
			if cfg.AudioPlayer != "" {
				p, err := audio.NewCommandPlayer(cfg.AudioPlayer)
				if err != nil {
					return err
				}
				adapter = audio.NewAdapter(p, audio.WithFailureHook(a.metrics.AudioFailed))
				defer adapter.Wait()
				opts = append(opts, chat.WithAudio(adapter))
			}

			// A single question prints only the answer.
			view.quiet = len(args) > 0
			controller := chat.NewController(a.sessions, a.client, opts...)
			r := &repl{
				out:        cmd.OutOrStdout(),
				controller: controller,
				view:       view,
				sessions:   a.sessions,
				settings:   prefs,
			}

			if sessionID != "" {
				if err := controller.LoadSession(sessionID); err != nil {
					return fmt.Errorf("load %s: %w", sessionID, err)
				}
			}
			if view.quiet {
				return r.ask(cmd.Context(), strings.Join(args, " "))
			}

			if sessionID == "" {
				view.printAll(controller.Messages())
			}
			return r.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Continue a stored session")
	return cmd
}

type repl struct {
	out        io.Writer
	controller *chat.Controller
	view       *terminalView
	sessions   session.Store
	settings   *settings.Store
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	if interactive {
		fmt.Fprintln(r.out, "Type /help for commands.")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprintf(r.out, "[%s]> ", r.controller.Language())
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.ask(ctx, line); err != nil {
			fmt.Fprintln(r.out, "error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) ask(ctx context.Context, question string) error {
	err := r.controller.Submit(ctx, question)
	if err != nil {
		return err
	}
	if r.view.quiet {
		msgs := r.controller.Messages()
		printMessage(r.out, msgs[len(msgs)-1])
	}
	return nil
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/new":
		r.view.reset()
		r.controller.NewConversation()
	case "/load":
		if arg == "" {
			return false, errors.New("usage: /load <session id>")
		}
		r.view.reset()
		return false, r.controller.LoadSession(arg)
	case "/sessions":
		list, err := r.sessions.List()
		if err != nil {
			return false, err
		}
		current := r.controller.CurrentSessionID()
		for _, s := range list {
			marker := " "
			if s.ID == current {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s  %s\n", marker, s.ID, s.Title)
		}
	case "/lang":
		if arg == "" {
			fmt.Fprintln(r.out, r.controller.Language())
			return false, nil
		}
		prefs := r.settings.Get()
		prefs.Language = arg
		if err := r.settings.Update(prefs); err != nil {
			return false, err
		}
		r.controller.SetLanguage(arg)
	case "/audio":
		var on bool
		switch arg {
		case "on":
			on = true
		case "off":
		default:
			return false, errors.New("usage: /audio on|off")
		}
		prefs := r.settings.Get()
		prefs.Audio = on
		if err := r.settings.Update(prefs); err != nil {
			return false, err
		}
		r.controller.SetAudio(on)
	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <path>")
		}
		f, err := os.Open(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		return false, r.controller.UploadFile(ctx, arg, f)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// terminalView prints messages as they are appended and mounts a chart
// surface for every chart so the renderer can write it to disk.
type terminalView struct {
	out     io.Writer
	engine  *chart.HTMLEngine
	quiet   bool
	mu      sync.Mutex
	printed int
	// replay also prints user messages, for a list that replaced the old one.
	replay  bool
	mounted map[string]struct{}
}

func newTerminalView(out io.Writer, engine *chart.HTMLEngine) *terminalView {
	return &terminalView{out: out, engine: engine}
}

// reset makes the next change print the whole list.
func (v *terminalView) reset() {
	v.mu.Lock()
	v.printed = 0
	v.replay = true
	v.mu.Unlock()
}

func (v *terminalView) MessagesChanged(msgs []session.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	wanted := make(map[string]struct{})
	for i, msg := range msgs {
		for name := range chartsOf(msg) {
			wanted[chart.SurfaceID(i, name)] = struct{}{}
		}
	}
	for id := range v.mounted {
		if _, ok := wanted[id]; !ok {
			v.engine.Unmount(id)
		}
	}
	for id := range wanted {
		v.engine.Mount(id)
	}
	v.mounted = wanted

	if v.quiet {
		v.printed = len(msgs)
		return
	}
	if v.printed > len(msgs) {
		v.printed = 0
	}
	for i := v.printed; i < len(msgs); i++ {
		v.print(i, msgs[i])
	}
	v.printed = len(msgs)
	v.replay = false
}

func (v *terminalView) ScrollToLatest() {}

func (v *terminalView) printAll(msgs []session.Message) {
	v.reset()
	v.MessagesChanged(msgs)
}

func (v *terminalView) print(index int, msg session.Message) {
	if msg.Role == session.RoleUser && !v.replay {
		return
	}
	printMessage(v.out, msg)
	names := make([]string, 0, len(chartsOf(msg)))
	for name := range chartsOf(msg) {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(v.out, "  chart %s: %s\n", name, v.engine.Path(chart.SurfaceID(index, name)))
	}
}

func chartsOf(msg session.Message) map[string][]*chart.Record {
	if !msg.Visualizations.HasCharts() {
		return nil
	}
	return msg.Visualizations.Charts
}

func printMessage(w io.Writer, msg session.Message) {
	prefix := "assistant"
	if msg.Role == session.RoleUser {
		prefix = "you"
	}
	if msg.Synthetic {
		prefix += " (offline)"
	}
	fmt.Fprintf(w, "%s: %s\n", prefix, msg.Content)

	if v := msg.Visualizations; v != nil {
		keys := make([]string, 0, len(v.KPIs))
		for k := range v.KPIs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, v.KPIs[k])
		}
		if v.Tables != nil && v.Tables.Summary != "" {
			fmt.Fprintf(w, "  %s\n", v.Tables.Summary)
		}
	}
	for _, rec := range msg.Recommendations {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
	for _, src := range msg.Sources {
		if name, ok := src["filename"]; ok {
			fmt.Fprintf(w, "  source: %v\n", filepath.Base(fmt.Sprint(name)))
		}
	}
	if msg.Audio.Playable() {
		slog.Debug("answer carries audio", "format", msg.Audio.Format)
	}
}
