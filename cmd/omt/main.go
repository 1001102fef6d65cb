// Command omt runs an OMT peer from the terminal: `omt send` listens and
// advertises a source, but the command itself submits no video or audio
// frames; `omt recv` discovers or connects to a source and reports what it
// receives.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/omt/discover"
	"github.com/zsiec/omt/internal/config"
	"github.com/zsiec/omt/internal/metrics"
	"github.com/zsiec/omt/recv"
	"github.com/zsiec/omt/send"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(ctx, os.Args[2:])
	case "recv":
		err = runRecv(ctx, os.Args[2:])
	case "list":
		err = runList(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `omt %s - Open Media Transport peer

usage:
  omt send [-config file] [-port N] [-name NAME] [-status ADDR]
  omt recv [-config file] [-host HOST] [-port N]
  omt list
`, version)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	port := fs.Int("port", 0, "listen port (overrides config)")
	name := fs.String("name", "", "source name (overrides config)")
	statusAddr := fs.String("status", "", "HTTP status/metrics listen address")
	advertise := fs.Bool("advertise", true, "register the source via DNS-SD")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Send.Port = *port
	}
	if *name != "" {
		cfg.Send.SourceName = *name
	}
	if *statusAddr != "" {
		cfg.Send.StatusAddr = *statusAddr
	}

	m := metrics.New()

	var statsMu sync.Mutex
	var lastStats send.Stats

	srv := send.NewServer(send.Config{
		Port:       cfg.Send.Port,
		SourceName: cfg.Send.SourceName,
		Metrics:    m,
		OnStats: func(st send.Stats) {
			statsMu.Lock()
			lastStats = st
			statsMu.Unlock()
		},
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()
	srv.SetAudioEnabled(cfg.Send.Audio)

	if *advertise || cfg.Send.Advertise {
		adv, err := discover.Advertise(cfg.Send.SourceName, srv.Port())
		if err != nil {
			slog.Warn("DNS-SD advertisement failed", "error", err)
		} else {
			defer adv.Close()
			slog.Info("advertised", "service", discover.ServiceType, "port", srv.Port())
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Send.StatusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
			statsMu.Lock()
			st := lastStats
			statsMu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(st); err != nil {
				slog.Error("encoding JSON response", "error", err)
			}
		})
		statusSrv := &http.Server{Addr: cfg.Send.StatusAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("status server listening", "addr", cfg.Send.StatusAddr)
			if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return statusSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func runRecv(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recv", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	host := fs.String("host", "", "source host (overrides config; empty discovers)")
	port := fs.Int("port", 0, "source port (overrides config)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Recv.Host = *host
	}
	if *port != 0 {
		cfg.Recv.Port = *port
	}

	if cfg.Recv.Host == "" {
		sources, err := discover.Browse(ctx, 3*time.Second)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("no OMT sources found")
		}
		slog.Info("discovered source", "name", sources[0].Name,
			"host", sources[0].Host, "port", sources[0].Port)
		cfg.Recv.Host = sources[0].Host
		cfg.Recv.Port = sources[0].Port
	}

	var frames, audioPackets int
	client := recv.NewClient(recv.Config{
		Host: cfg.Recv.Host,
		Port: cfg.Recv.Port,
		OnFrame: func(_ []byte, width, height int) {
			frames++
			if frames%100 == 1 {
				slog.Info("video", "size", fmt.Sprintf("%dx%d", width, height), "frames", frames)
			}
		},
		OnAudio: func(samples []float32, rate, channels int) {
			audioPackets++
			if audioPackets%500 == 1 {
				slog.Info("audio", "rate", rate, "channels", channels, "samples", len(samples))
			}
		},
		OnStatus: func(text string) {
			slog.Info("status", "text", text)
		},
	})
	if err := client.Start(); err != nil {
		return err
	}
	defer client.Stop()

	<-ctx.Done()
	return nil
}

func runList(ctx context.Context) error {
	sources, err := discover.Browse(ctx, 3*time.Second)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("no OMT sources found")
		return nil
	}
	for _, src := range sources {
		fmt.Printf("%s\t%s:%d\n", src.Name, src.Host, src.Port)
	}
	return nil
}
