package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// SettingsManager 是运行时配置的核心管理器。
// 它线程安全，使用原子指针和发布/订阅模式处理配置的读取和热重载。
type SettingsManager struct {
	filePath    string
	settings    atomic.Value // *RuntimeSettings
	subscribers map[string][]ConfigurableModule
	mu          sync.RWMutex
}

// NewSettingsManager 创建并初始化一个新的配置管理器。
// filePath 为空时只在内存中使用默认配置；文件不存在时会写入默认配置。
func NewSettingsManager(filePath string) (*SettingsManager, error) {
	sm := &SettingsManager{
		filePath:    filePath,
		subscribers: make(map[string][]ConfigurableModule),
	}

	if filePath == "" {
		sm.settings.Store(createDefaultSettings())
		return sm, nil
	}

	if err := sm.load(); err != nil {
		return nil, fmt.Errorf("failed to load initial settings: %w", err)
	}

	return sm, nil
}

func (sm *SettingsManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	settings := &RuntimeSettings{}

	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
		log.Warn().Str("path", sm.filePath).Msg("settings.json not found, creating with default values.")
		settings = createDefaultSettings()
		if err := sm.persist(settings); err != nil {
			return fmt.Errorf("failed to write default settings file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to parse settings.json: %w", err)
		}
		ensureDefaultModules(settings)
	}

	sm.settings.Store(settings)
	return nil
}

// Register 将一个模块注册为特定配置主题的订阅者。
func (sm *SettingsManager) Register(moduleKey string, module ConfigurableModule) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscribers[moduleKey] = append(sm.subscribers[moduleKey], module)
}

// Get 返回当前运行时配置的一个快照。此操作是无锁的。
func (sm *SettingsManager) Get() *RuntimeSettings {
	return sm.settings.Load().(*RuntimeSettings)
}

// Update 接收一个模块的原始 JSON 数据，合并到当前配置的深拷贝上，
// 持久化到磁盘，并同步通知所有订阅者。JSON 中缺失的字段保持原值。
func (sm *SettingsManager) Update(moduleKey string, newSettingsData json.RawMessage) error {
	sm.mu.Lock()
	newSettings := deepCopy(sm.Get())
	targetModule := getModuleByKey(newSettings, moduleKey)
	if targetModule == nil {
		sm.mu.Unlock()
		return fmt.Errorf("unknown settings module: %s", moduleKey)
	}
	if err := mergeModule(targetModule, newSettingsData); err != nil {
		sm.mu.Unlock()
		return fmt.Errorf("failed to parse JSON for module %s: %w", moduleKey, err)
	}

	if sm.filePath != "" {
		if err := sm.persist(newSettings); err != nil {
			sm.mu.Unlock()
			return fmt.Errorf("failed to save updated settings to disk: %w", err)
		}
	}
	sm.settings.Store(newSettings)
	sm.mu.Unlock()

	return sm.notify(moduleKey, targetModule)
}

// Reload 重新读取 settings.json 并通知所有订阅者。内存模式下只做通知。
func (sm *SettingsManager) Reload() error {
	if sm.filePath != "" {
		sm.mu.Lock()
		err := sm.load()
		sm.mu.Unlock()
		if err != nil {
			return err
		}
	}

	current := sm.Get()
	var firstErr error
	for _, key := range []string{"firewall"} {
		if err := sm.notify(key, getModuleByKey(current, key)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (sm *SettingsManager) persist(settings *RuntimeSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sm.filePath, data, 0644)
}

// notify 通知所有订阅了指定模块的模块，返回遇到的第一个错误。
func (sm *SettingsManager) notify(moduleKey string, newSettings interface{}) error {
	sm.mu.RLock()
	subscribers := append([]ConfigurableModule(nil), sm.subscribers[moduleKey]...)
	sm.mu.RUnlock()

	log.Debug().Str("module", moduleKey).Int("subscribers", len(subscribers)).Msg("Notifying subscribers of settings update.")
	var firstErr error
	for _, sub := range subscribers {
		if err := sub.OnSettingsUpdate(moduleKey, newSettings); err != nil {
			log.Error().Err(err).Str("module", moduleKey).Msg("Error notifying subscriber.")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// --- 辅助函数 ---

func deepCopy(s *RuntimeSettings) *RuntimeSettings {
	newS := *s
	if s.Firewall != nil {
		fwCopy := *s.Firewall
		fwCopy.Rules = make([]*FirewallRule, 0, len(s.Firewall.Rules))
		for _, r := range s.Firewall.Rules {
			rc := *r
			rc.SourceCIDR = append([]string(nil), r.SourceCIDR...)
			fwCopy.Rules = append(fwCopy.Rules, &rc)
		}
		newS.Firewall = &fwCopy
	}
	return &newS
}

// mergeModule decodes data onto module. A rules list present in data replaces
// the old list as a whole; json would otherwise decode into the existing
// rule structs and keep their stale fields.
func mergeModule(module interface{}, data json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fw, ok := module.(*FirewallSettings); ok {
		if _, present := fields["rules"]; present {
			fw.Rules = nil
		}
	}
	return json.Unmarshal(data, module)
}

func getModuleByKey(s *RuntimeSettings, key string) interface{} {
	switch key {
	case "firewall":
		return s.Firewall
	default:
		return nil
	}
}
