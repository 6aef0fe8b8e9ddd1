package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/api"
	"github.com/minesight/analyst/audio"
	"github.com/minesight/analyst/chat"
	"github.com/minesight/analyst/config"
	"github.com/minesight/analyst/middleware"
	"github.com/minesight/analyst/ws"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	var noQR bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat shell over WebSocket with REST session access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg, false)

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Store == config.StoreFile {
				if err := a.sessions.StartWatching(); err != nil {
					slog.Warn("session file watching disabled", "error", err)
				}
			}

			settingsStore, err := a.openSettings()
			if err != nil {
				return err
			}

			var player chat.AudioPlayer
			var adapter *audio.Adapter
			if cfg.AudioPlayer != "" {
				p, err := audio.NewCommandPlayer(cfg.AudioPlayer)
				if err != nil {
					return err
				}
				adapter = audio.NewAdapter(p, audio.WithFailureHook(a.metrics.AudioFailed))
				player = adapter
			}

			token := cfg.AuthToken
			if token == "" {
				token = uuid.NewString()
				fmt.Fprintf(cmd.OutOrStdout(), "AUTH_TOKEN not set, generated token: %s\n", token)
			}

			rpcHandler := ws.NewRPCHandler(token, version, appTitle, cfg.DevMode, ws.Deps{
				Sessions: a.sessions,
				Settings: settingsStore,
				Backend:  a.client,
				Audio:    player,
				Metrics:  a.metrics,
				ChartDir: cfg.ChartDir,
			})
			defer rpcHandler.Stop()

			srv := &http.Server{
				Addr:              ":" + strconv.Itoa(cfg.Port),
				Handler:           newHandler(token, a, rpcHandler, cfg.ChartDir),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				slog.Info("server starting", "port", cfg.Port, "backend", cfg.BackendURL, "store", cfg.Store)
				errCh <- srv.ListenAndServe()
			}()

			url := fmt.Sprintf("http://%s:%d", lanAddress(), cfg.Port)
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", appTitle, url)
			if !noQR {
				qrterminal.GenerateHalfBlock(url+"/?token="+token, qrterminal.L, cmd.OutOrStdout())
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				slog.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					slog.Error("graceful shutdown failed", "error", err)
				}
			}

			if adapter != nil {
				adapter.Wait()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "Do not print a QR code of the server URL")
	return cmd
}

func newHandler(token string, a *app, rpcHandler http.Handler, chartDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/languages", func(w http.ResponseWriter, r *http.Request) {
		langs := analytics.LanguagesOrDefault(r.Context(), a.client)
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]any{"languages": langs, "codes": analytics.LanguageCodes(langs)})
	})

	api.NewSessionHandler(a.sessions).Register(mux)
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.Handle("GET /charts/", http.StripPrefix("/charts/", http.FileServer(http.Dir(chartDir))))

	// WebSocket endpoint (authenticates in-band with the auth method)
	mux.Handle("GET /ws", rpcHandler)

	return middleware.Auth(token, "/api/languages")(mux)
}

// lanAddress returns the first non-loopback IPv4 address, or localhost.
func lanAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "localhost"
}
