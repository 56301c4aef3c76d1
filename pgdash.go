package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/slog"

	"pgdash/config"
	"pgdash/http"
	"pgdash/model"
	"pgdash/poller"
	"pgdash/registry"
	"pgdash/session"
	"pgdash/util"
)

const reapInterval = time.Minute

func init() {
	formatter := slog.NewTextFormatter()
	formatter.SetTemplate("[{{datetime}}] [{{level}}] [{{caller}}] {{message}}\n")
	formatter.TimeFormat = "2006-01-02T15:04:05.000"
	formatter.EnableColor = false

	slog.SetFormatter(formatter)
}

func main() {
	util.EnterWorkDir()

	cfg, err := config.Load("config.ini")
	if err != nil {
		slog.Fatalf("load config: %v", err)
		return
	}

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		slog.Fatalf("open registry: %v", err)
		return
	}

	if err := seedRegistry(reg, cfg); err != nil {
		slog.Errorf("seed registry: %v", err)
	}

	sessions := session.NewManager(reg,
		time.Duration(cfg.ConnectTimeoutSeconds)*time.Second,
		time.Duration(cfg.SessionTimeoutMinutes)*time.Minute)

	engine := poller.New(poller.NewCollector(sessions),
		time.Duration(cfg.FastIntervalSeconds)*time.Second,
		time.Duration(cfg.SlowIntervalSeconds)*time.Second)

	stopHTTP, err := http.StartService(http.NewHandlers(reg, sessions, engine), cfg.HttpPort)
	if err != nil {
		slog.Fatalf("start http service: %v", err)
		return
	}

	done := make(chan struct{})
	go reapLoop(sessions, engine, done)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Infof("received %s, shutting down", sig)

	close(done)
	stopHTTP()
	engine.StopAll()
	sessions.Shutdown()
	if err := reg.Close(); err != nil {
		slog.Errorf("close registry: %v", err)
	}
	slog.Infof("shutdown complete")
}

// reapLoop evicts idle sessions and stops their polling timers.
func reapLoop(sessions *session.Manager, engine *poller.Engine, done <-chan struct{}) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, id := range sessions.ReapExpired() {
				engine.Stop(id)
			}
		}
	}
}

// seedRegistry creates the default connection from DATABASE_URL or the [db]
// section when the registry is empty.
func seedRegistry(reg *registry.Registry, cfg *config.Config) error {
	list, err := reg.List()
	if err != nil {
		return err
	}
	if len(list) > 0 {
		return nil
	}

	if cfg.DatabaseURL != "" {
		seed, err := session.ConfigFromURI(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		seed.Name = "default"
		seed.IsActive = true
		slog.Infof("seeding registry from DATABASE_URL (%s)", seed.Host)
		return reg.Add(seed)
	}

	if cfg.DB.Host != "" && cfg.DB.User != "" && cfg.DB.Database != "" {
		seed := &model.ConnectionConfig{
			Name:     "default",
			Host:     cfg.DB.Host,
			Port:     uint16(cfg.DB.Port),
			Database: cfg.DB.Database,
			Username: cfg.DB.User,
			Password: cfg.DB.Password,
			IsActive: true,
		}
		slog.Infof("seeding registry from config (%s:%d)", seed.Host, seed.Port)
		return reg.Add(seed)
	}
	return nil
}
