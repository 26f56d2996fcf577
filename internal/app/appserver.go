package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"hello_gateway/internal/core/acceptor"
	"hello_gateway/internal/firewall"
	"hello_gateway/internal/shared/logger"
	"hello_gateway/internal/shared/settings"
	"hello_gateway/internal/shared/types"
)

// AppServer wires configuration, the allow-list and the acceptor together.
type AppServer struct {
	cfg        *types.Config
	rootFolder string
	listenAddr string

	settingsManager *settings.SettingsManager
	firewall        firewall.Firewall
	acceptor        *acceptor.Acceptor

	signals  chan os.Signal
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New 创建 AppServer。configDir 为空时 settings 只保存在内存中。
func New(cfg *types.Config, configDir, rootFolder, listenAddr string) (*AppServer, error) {
	settingsPath := ""
	if configDir != "" {
		settingsPath = filepath.Join(configDir, "settings.json")
	}
	sm, err := settings.NewSettingsManager(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings manager: %w", err)
	}

	fw := firewall.NewEngine()
	if err := fw.OnSettingsUpdate("firewall", sm.Get().Firewall); err != nil {
		return nil, fmt.Errorf("failed to initialize firewall with initial settings: %w", err)
	}
	sm.Register("firewall", fw)

	acc, err := acceptor.New(acceptor.Options{
		ReadBudget:  cfg.ServerConf.ReadBudget,
		ReadTimeout: time.Duration(cfg.ServerConf.ReadTimeout) * time.Second,
		Policy:      types.RejectPolicy(cfg.ServerConf.RejectPolicy),
	}, fw)
	if err != nil {
		return nil, fmt.Errorf("failed to create acceptor: %w", err)
	}

	return &AppServer{
		cfg:             cfg,
		rootFolder:      rootFolder,
		listenAddr:      listenAddr,
		settingsManager: sm,
		firewall:        fw,
		acceptor:        acc,
		signals:         make(chan os.Signal, 1),
		stopCh:          make(chan struct{}),
	}, nil
}

// Start binds the listening socket and returns the bound port.
func (s *AppServer) Start() (int, error) {
	logger.Info().Str("root_folder", s.rootFolder).Msg("Starting web server...")
	return s.acceptor.Listen("tcp4", s.listenAddr)
}

// Run 启动监听 (若尚未启动) 并阻塞在 accept 循环上。
// 返回 acceptor.ErrRejected 表示 stop 策略结束了循环。
func (s *AppServer) Run() error {
	if s.acceptor.GetListenerInfo() == nil {
		if _, err := s.Start(); err != nil {
			return err
		}
	}

	signal.Notify(s.signals, syscall.SIGHUP)
	go s.reloadLoop()
	defer s.Stop()

	err := s.acceptor.Serve()
	if errors.Is(err, acceptor.ErrRejected) {
		logger.Warn().Msg("Disallowed client connected, server stopped accepting.")
	}
	return err
}

// ReloadSettings re-reads settings.json and pushes it to the firewall.
func (s *AppServer) ReloadSettings() error {
	if err := s.settingsManager.Reload(); err != nil {
		return err
	}
	logger.Info().Msg("Runtime settings reloaded.")
	return nil
}

// Settings exposes the settings manager for online updates.
func (s *AppServer) Settings() *settings.SettingsManager {
	return s.settingsManager
}

// Metrics returns the acceptor counters.
func (s *AppServer) Metrics() types.Metrics {
	return s.acceptor.Metrics()
}

// ListenerInfo returns the bound address, nil before Start.
func (s *AppServer) ListenerInfo() *types.ListenerInfo {
	return s.acceptor.GetListenerInfo()
}

// Stop closes the listener and the reload loop.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		signal.Stop(s.signals)
		if err := s.acceptor.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close listener")
		}
	})
}

// reloadLoop 在收到 SIGHUP 时重新加载 settings.json。
func (s *AppServer) reloadLoop() {
	for {
		select {
		case <-s.signals:
			if err := s.ReloadSettings(); err != nil {
				logger.Error().Err(err).Msg("Failed to reload runtime settings")
			}
		case <-s.stopCh:
			return
		}
	}
}
