package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigWatcher 配置文件热加载,目前用于运行时调整日志级别和审计窗口
type ConfigWatcher struct {
	config    *Config
	viper     *viper.Viper
	callbacks []func(*Config)
	mu        sync.RWMutex
	stopped   bool
	stopMu    sync.RWMutex
	onError   func(error)
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string) *ConfigWatcher {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	return &ConfigWatcher{
		config:  cfg,
		viper:   v,
		onError: func(error) {},
	}
}

// OnError 注册重载失败的回调
func (w *ConfigWatcher) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动配置监听
func (w *ConfigWatcher) Start() error {
	if err := w.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	w.viper.WatchConfig()
	w.viper.OnConfigChange(func(e fsnotify.Event) {
		w.stopMu.RLock()
		stopped := w.stopped
		w.stopMu.RUnlock()
		if stopped {
			return
		}
		w.reload()
	})

	return nil
}

func (w *ConfigWatcher) reload() {
	var newCfg Config
	if err := w.viper.Unmarshal(&newCfg); err != nil {
		w.mu.RLock()
		onError := w.onError
		w.mu.RUnlock()
		onError(fmt.Errorf("failed to unmarshal config: %w", err))
		return
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	// 回调在锁外执行
	for _, callback := range callbacks {
		callback(&newCfg)
	}

	w.mu.Lock()
	w.config = &newCfg
	w.mu.Unlock()
}

// Stop 停止配置监听
func (w *ConfigWatcher) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	w.stopped = true
}

// GetConfig 获取当前配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
