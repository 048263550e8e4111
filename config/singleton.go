package config

import "sync"

var (
	_instance ConfigManager
	_once     sync.Once
	_mu       sync.RWMutex
)

// GetInstance returns the process-wide configuration manager singleton,
// creating it on first use. The singleton exists because ambient components
// (logger, plugins, dispatchers) need configuration before any explicit
// wiring can take place; everything else should receive a ConfigManager
// by injection.
func GetInstance() ConfigManager {
	_once.Do(func() {
		_mu.Lock()
		defer _mu.Unlock()
		if _instance == nil {
			_instance = NewConfigManager()
		}
	})
	_mu.RLock()
	defer _mu.RUnlock()
	return _instance
}

// SetInstance replaces the singleton. Intended for tests and for embedders
// that construct a customized manager during startup, before any component
// has called GetInstance.
func SetInstance(cm ConfigManager) {
	_mu.Lock()
	defer _mu.Unlock()
	_instance = cm
}
