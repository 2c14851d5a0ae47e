// uxdeskd runs the mixing desk: the audio engine, the UXD1 stream
// listener, and the control socket the console talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/uxdesk/uxdesk/engine"
	"github.com/uxdesk/uxdesk/engine/control"
	"github.com/uxdesk/uxdesk/engine/matrix"
)

// DefaultControlSocket is where the console expects the daemon unless
// configured otherwise.
const DefaultControlSocket = "/tmp/uxdesk-control.sock"

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("listen", engine.DefaultStreamSocket)
	viper.SetDefault("control", DefaultControlSocket)
	viper.SetDefault("samplerate", engine.DefaultSampleRate)
	viper.SetDefault("chunkframes", 0)
	viper.SetDefault("tickms", 0)
	viper.SetDefault("targetbuffer", 0.0)
	viper.SetDefault("settings", defaultSettingsPath())
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "uxdesk-settings.bin"
	}
	return filepath.Join(dir, "uxdesk", "settings.bin")
}

func loadConfig(configFile string) error {
	setViperDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("uxdeskd")
		viper.AddConfigPath("/etc/uxdesk")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicitly named file must exist.
		if configFile == "" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func main() {
	configFile := flag.String("config", "", "config file path")
	listen := flag.String("listen", "", "stream socket path (overrides config)")
	controlSock := flag.String("control", "", "control socket path (overrides config)")
	logLevel := flag.String("log-level", "", "none|error|warn|info|debug (overrides config)")
	flag.Parse()

	if err := loadConfig(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "uxdeskd:", err)
		os.Exit(1)
	}
	for key, val := range map[string]string{
		"listen":   *listen,
		"control":  *controlSock,
		"loglevel": *logLevel,
	} {
		if val != "" {
			viper.Set(key, val)
		}
	}

	logFile, err := configureLogger(viper.GetString("loglevel"), viper.GetString("logfile"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "uxdeskd:", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	log := slog.Default()

	settingsPath := viper.GetString("settings")
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		log.Error("settings directory", "path", settingsPath, "err", err)
		os.Exit(1)
	}
	snap, err := matrix.LoadSettings(settingsPath)
	if err != nil {
		log.Error("load settings", "path", settingsPath, "err", err)
		os.Exit(1)
	}
	log.Info("settings loaded", "path", settingsPath,
		"inputs", len(snap.Inputs), "outputs", len(snap.Outputs))

	cfg := engine.Config{
		StreamSocket:        viper.GetString("listen"),
		SampleRate:          viper.GetUint32("samplerate"),
		ChunkFrames:         viper.GetInt("chunkframes"),
		TickInterval:        time.Duration(viper.GetInt("tickms")) * time.Millisecond,
		TargetBufferSeconds: viper.GetFloat64("targetbuffer"),
		Persist: func(s matrix.Snapshot) error {
			return matrix.SaveSettings(settingsPath, s)
		},
		Logger: log,
	}

	eng := engine.New(cfg, snap)
	if err := eng.Start(); err != nil {
		log.Error("engine start", "err", err)
		os.Exit(1)
	}
	log.Info("engine running",
		"stream", cfg.StreamSocket,
		"control", viper.GetString("control"),
		"rate", cfg.SampleRate)

	ctx, cancel := context.WithCancel(context.Background())
	srv := control.NewServer(viper.GetString("control"), eng, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			log.Error("control server", "err", err)
		}
	}

	cancel()
	srv.Close()
	if err := eng.Close(); err != nil {
		log.Error("engine stop", "err", err)
	}
	if err := matrix.SaveSettings(settingsPath, eng.Snapshot()); err != nil {
		log.Error("save settings", "path", settingsPath, "err", err)
	}
	log.Info("stopped")
}
