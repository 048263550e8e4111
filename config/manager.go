package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager loads named configurations from yaml files, watches them for
// edits and hot-reloads them into fresh Config values.
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	RegisterValidator(configName string, validator ValidatorFunc)
	AddChangeListener(listener ConfigChangeListener)
	SetBasePath(path string)
	Close() error
}

// ValidatorFunc is an extra validation step beyond Config.Validate, for
// constraints the config type itself cannot express.
type ValidatorFunc func(Config) error

type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	listeners  []ConfigChangeListener
	basePath   string
}

// NewConfigManager creates a manager reading from ./configs until
// SetBasePath points it elsewhere.
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		basePath:   "./configs",
	}
}

func (cm *configManager) newViperFor(configName string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	return v
}

// readInto loads and validates configName from disk into config. Caller
// holds cm.mu.
func (cm *configManager) readInto(configName string, config Config) error {
	v := cm.newViperFor(configName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("validate config failed: %w", err)
	}
	if validator, ok := cm.validators[configName]; ok {
		if err := validator(config); err != nil {
			return fmt.Errorf("validate config failed: %w", err)
		}
	}
	return nil
}

// LoadConfig reads configName.yaml into config, stores it, and starts
// watching the file for hot reload.
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := cm.readInto(configName, config); err != nil {
		return err
	}
	cm.configs[configName] = config

	if err := cm.watchConfigFile(configName); err != nil {
		return fmt.Errorf("watch config file failed: %w", err)
	}
	return nil
}

// GetConfig returns a previously loaded configuration.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, ok := cm.configs[configName]
	if !ok {
		return nil, fmt.Errorf("config %s not found", configName)
	}
	return config, nil
}

// RegisterValidator installs an extra validator applied on load and reload.
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// AddChangeListener registers a listener notified on every hot reload.
// Listeners are responsible for filtering by configuration name.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	if listener == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// SetBasePath sets the directory configuration files are read from.
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

func (cm *configManager) watchConfigFile(configName string) error {
	v := cm.newViperFor(configName)
	if err := v.ReadInConfig(); err != nil {
		return nil
	}
	configFile := v.ConfigFileUsed()
	if configFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cm.watchers[configName] = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					cm.reloadConfig(configName)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Printf("config watcher error: %v\n", err)
			}
		}
	}()

	return watcher.Add(configFile)
}

// reloadConfig re-reads a changed file into a fresh instance of the stored
// config's type. A reload that fails to read or validate keeps the old value;
// success swaps it in and notifies the listeners.
func (cm *configManager) reloadConfig(configName string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig, ok := cm.configs[configName]
	if !ok {
		return
	}
	newConfig := reflect.New(reflect.TypeOf(oldConfig).Elem()).Interface().(Config)

	if err := cm.readInto(configName, newConfig); err != nil {
		fmt.Printf("reloadConfig: %s: %v\n", configName, err)
		return
	}
	cm.configs[configName] = newConfig

	for _, listener := range cm.listeners {
		if err := listener.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			fmt.Printf("reloadConfig: listener failed for config %s: %v\n", configName, err)
			return
		}
	}
}

// Close stops all file watchers.
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, watcher := range cm.watchers {
		if err := watcher.Close(); err != nil {
			return err
		}
	}
	return nil
}
