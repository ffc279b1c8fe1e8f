package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/jumpsense/internal/ble"
	"github.com/chaz8081/jumpsense/internal/config"
	"github.com/chaz8081/jumpsense/internal/monitor"
	"github.com/chaz8081/jumpsense/internal/sensor"
	"github.com/chaz8081/jumpsense/internal/sink"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/jumpsense/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	slog.SetLogLoggerLevel(config.ParseLogLevel(cfg.LogLevel))

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	printBanner(cfg)

	if err := run(cfg, sessionCfg); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Println("Goodbye!")
}

func run(cfg *config.Config, sessionCfg ble.SessionConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := ble.NewTinyGoTransport(cfg.BLE.DataCharUUID, cfg.BLE.RefreshInterval)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()

	// The monitor owns the terminal, so logs go to a file while it runs.
	if cfg.Monitor {
		logPath := filepath.Join(config.DefaultConfigDir(), "jumpsense.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return fmt.Errorf("creating log dir: %w", err)
		}
		f, err := tea.LogToFile(logPath, "jumpsense")
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		fmt.Printf("Logging to %s\n", logPath)
	}

	var jsonlOut io.WriteCloser
	if cfg.Output.JSONL != "" {
		jsonlOut, err = openJSONL(cfg.Output.JSONL)
		if err != nil {
			return err
		}
		defer jsonlOut.Close()
		log.Printf("Writing samples to %s", cfg.Output.JSONL)
	}

	var influxAPI sink.PointWriter
	if cfg.Output.Influx.URL != "" {
		client := influxdb2.NewClient(cfg.Output.Influx.URL, cfg.Output.Influx.Token)
		defer client.Close()
		influxAPI = client.WriteAPIBlocking(cfg.Output.Influx.Org, cfg.Output.Influx.Bucket)
		log.Printf("Exporting to InfluxDB %s (bucket: %s)", cfg.Output.Influx.URL, cfg.Output.Influx.Bucket)
	}

	hub := sink.NewHub()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if jsonlOut != nil {
		ch := hub.Subscribe()
		w := sink.NewJSONLWriter(jsonlOut)
		g.Go(func() error { return w.Consume(gctx, ch) })
	}

	if influxAPI != nil {
		ch := hub.Subscribe()
		w := sink.NewInfluxWriter(influxAPI, cfg.Output.Influx.Measurement, sessionID)
		g.Go(func() error { return w.Consume(gctx, ch) })
	}

	onStatus := func(st ble.Status) {}
	var prog *tea.Program
	if cfg.Monitor {
		prog = tea.NewProgram(monitor.New(sessionID, nil), tea.WithContext(gctx))
		onStatus = func(st ble.Status) { prog.Send(monitor.StatusMsg(st)) }

		ch := hub.Subscribe()
		g.Go(func() error {
			monitor.Forward(gctx, prog, ch)
			return nil
		})
		g.Go(func() error {
			_, err := prog.Run()
			// Quitting the monitor ends the run.
			stop()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	var samples sensor.Sink = hub
	if !cfg.Monitor {
		samples = sink.Tee(hub, sink.NewLogSink(nil))
	}

	session, err := ble.NewSession(transport, sessionCfg, samples,
		ble.WithSessionID(sessionID),
		ble.WithStatusFunc(onStatus),
	)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	if prog != nil {
		prog.Send(monitor.AttachMsg{Controls: session})
	} else {
		g.Go(func() error {
			logStatus(gctx, session, 10*time.Second)
			return nil
		})
	}

	log.Printf("Ready! Waiting for %d sensor(s). Ctrl+C to quit.", sessionCfg.RequiredSensorCount)

	<-gctx.Done()
	log.Println("Shutting down...")
	if err := session.Close(); err != nil {
		log.Printf("ERROR: %v", err)
	}
	if n := hub.Dropped(); n > 0 {
		log.Printf("Hub dropped %d samples", n)
	}
	return g.Wait()
}

// logStatus prints a status line every interval until ctx is done.
func logStatus(ctx context.Context, s *ble.Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.Status()
			log.Printf("Status: %s, %d/%d connected, %d frames (%d dropped)",
				st.State, st.Connected, st.Discovered, st.FramesDelivered, st.FramesDropped)
		}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// openJSONL opens path for appending, or returns stdout for "-".
func openJSONL(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening jsonl output: %w", err)
	}
	return f, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	scanTimeout := "none"
	if cfg.Sensors.ScanTimeout > 0 {
		scanTimeout = cfg.Sensors.ScanTimeout.String()
	}
	fmt.Println("=== jumpsense ===")
	fmt.Printf("  Sensors:   %d (revision %s)\n", cfg.Sensors.RequiredCount, cfg.Sensors.Revision)
	fmt.Printf("  Service:   %s\n", cfg.BLE.ServiceUUID)
	fmt.Printf("  Reconnect: %t (max backoff %ds)\n", cfg.Sensors.AutoReconnect, cfg.Sensors.ReconnectMax)
	fmt.Printf("  Timeout:   %s\n", scanTimeout)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
