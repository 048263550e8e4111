package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lcx/gamebridge/config"
	"github.com/lcx/gamebridge/log"
)

// Type represents the plugin type supported by the system.
// Each type corresponds to a category of functionality (e.g., transport).
type Type string

const (
	// Transport 传输层插件类型.
	Transport = "transport"
)

const (
	DefaultInsName = "default" // DefaultInsName is the default instance name when not specified in config.
)

// PluginConfig represents the plugin configuration structure.
// Structure: map[plugin_type][factory_name_instance_config] = config_items
// Example YAML:
//
//	transport:
//	  loopback_main:
//	    buffer: 256
//	    tag: main  # Instance name (optional, defaults to "default")
type PluginConfig map[string]map[string]map[string]any

// GetName implements the config.Config interface.
func (c *PluginConfig) GetName() string {
	return "plugin"
}

// Validate implements the config.Config interface.
func (c *PluginConfig) Validate() error {
	if c == nil || len(*c) == 0 {
		return fmt.Errorf("plugin config is empty")
	}

	for pluginType, factories := range *c {
		if len(factories) == 0 {
			return fmt.Errorf("plugin type %s has no factory config", pluginType)
		}
		for factoryName, instances := range factories {
			if len(instances) == 0 {
				return fmt.Errorf("plugin %s_%s has no instance config", pluginType, factoryName)
			}
		}
	}

	return nil
}

// Plugin represents the plugin instance interface.
// All plugin implementations must satisfy this interface.
type Plugin interface { //nolint:revive
	FactoryName() string
}

type pluginMgr struct {
	// insMap: type -> factory -> instance name -> plugin.
	insMap map[string]map[string]map[string]Plugin
}

var (
	_pluginLock sync.RWMutex
	_pluginMgr  = &pluginMgr{insMap: make(map[string]map[string]map[string]Plugin)}
)

// RegisterPlugin registers a plugin factory with the plugin manager.
// This should be called during package initialization (init function).
// Thread-safe: uses global lock for concurrent registration.
func RegisterPlugin(f Factory) {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()
	_factoryMap[fmt.Sprintf("%s_%s", f.Type(), f.Name())] = f
}

// InitPlugins initializes all plugins with automatic rollback on partial failure.
// Loads configuration from the singleton ConfigManager and registers as a
// config change listener for hot reload.
// IMPORTANT: Must be called after config.GetInstance() is initialized.
func InitPlugins() error {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()

	cm := config.GetInstance()

	var cfg PluginConfig
	if err := cm.LoadConfig("plugin", &cfg); err != nil {
		return fmt.Errorf("load plugin config failed: %v", err)
	}

	cm.AddChangeListener(_pluginMgr)

	return setupFromConfig(cfg)
}

// setupFromConfig builds every instance in cfg, rolling back all previously
// created instances on the first failure. Caller holds _pluginLock.
func setupFromConfig(cfg PluginConfig) error {
	initialized := make([]initRecord, 0)

	for ft, s := range cfg {
		haveDefault := false
		for k, c := range s {
			fn := getFactoryName(k)
			f := _factoryMap[fmt.Sprintf("%s_%s", ft, fn)]
			if f == nil {
				rollbackPlugins(initialized)
				return fmt.Errorf("plugin factory [%s/%s] not found, available factories: %v",
					ft, fn, listAvailableFactories(ft))
			}

			ins, err := f.Setup(c)
			if err != nil {
				rollbackPlugins(initialized)
				return fmt.Errorf("plugin [%s/%s] setup failed: %v", ft, fn, err)
			}

			pn := getPluginNameFromCfg(c)
			if pn == DefaultInsName {
				if haveDefault {
					rollbackPlugins(initialized)
					return fmt.Errorf("plugin type [%s] default instance already exists", ft)
				}
				haveDefault = true
			}
			if err := registerPluginIns(ft, fn, pn, ins); err != nil {
				f.Destroy(ins, nil)
				rollbackPlugins(initialized)
				return err
			}

			initialized = append(initialized, initRecord{ft, fn, pn, ins})

			log.Info().Str("type", string(f.Type())).Str("name", f.Name()).
				Str("instance", pn).Msg("plugin setup success")
		}
	}

	log.Info().Int("count", len(initialized)).Msg("InitPlugins success")
	return nil
}

type initRecord struct {
	ft, fn, pn string
	ins        Plugin
}

// OnConfigChanged implements the config.ConfigChangeListener interface.
// Reinitializes plugins when the plugin configuration file changes.
//
// Hot reload strategy:
// 1. Safety check: CanDelete() on every running instance
// 2. Lightweight update: try Reload() for instances present in both configs
// 3. Fallback: Destroy+Setup for everything else, with rollback on failure
func (pm *pluginMgr) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "plugin" {
		return nil
	}

	newCfg, ok := newConfig.(*PluginConfig)
	if !ok {
		return fmt.Errorf("invalid config type: expected *PluginConfig, got %T", newConfig)
	}
	if oldConfig == nil {
		return nil
	}
	oldCfg, _ := oldConfig.(*PluginConfig)

	_pluginLock.Lock()
	defer _pluginLock.Unlock()

	// Step 1: every instance must be deletable before anything is touched.
	for ft, factories := range pm.insMap {
		for fn, instances := range factories {
			f := _factoryMap[fmt.Sprintf("%s_%s", ft, fn)]
			if f == nil {
				continue
			}
			for pn, ins := range instances {
				if !f.CanDelete(ins) {
					return fmt.Errorf("plugin [%s/%s/%s] cannot be deleted: has active tasks",
						ft, fn, pn)
				}
			}
		}
	}

	// Step 2: lightweight Reload() for instances surviving the change.
	reloaded := make(map[string]bool)
	if oldCfg != nil {
		for ft, s := range *newCfg {
			for k, c := range s {
				fn := getFactoryName(k)
				pn := getPluginNameFromCfg(c)
				oldFactories, ok := (*oldCfg)[ft]
				if !ok {
					continue
				}
				oldC, ok := oldFactories[k]
				if !ok || getPluginNameFromCfg(oldC) != pn {
					continue
				}
				f := _factoryMap[fmt.Sprintf("%s_%s", ft, fn)]
				if f == nil {
					continue
				}
				ins := pm.lookup(ft, fn, pn)
				if ins == nil {
					continue
				}
				if err := f.Reload(ins, c); err == nil {
					reloaded[ft+"/"+fn+"/"+pn] = true
				} else {
					log.Warn().Err(err).Str("type", ft).Str("factory", fn).
						Str("instance", pn).Msg("hot reload failed, will recreate plugin")
				}
			}
		}
	}

	// Step 3: destroy everything not reloaded, then rebuild from the new config.
	kept := make(map[string]map[string]map[string]Plugin)
	for ft, factories := range pm.insMap {
		for fn, instances := range factories {
			f := _factoryMap[fmt.Sprintf("%s_%s", ft, fn)]
			for pn, ins := range instances {
				key := ft + "/" + fn + "/" + pn
				if reloaded[key] {
					if kept[ft] == nil {
						kept[ft] = make(map[string]map[string]Plugin)
					}
					if kept[ft][fn] == nil {
						kept[ft][fn] = make(map[string]Plugin)
					}
					kept[ft][fn][pn] = ins
					continue
				}
				if f != nil {
					if err := f.Destroy(ins, nil); err != nil {
						log.Error().Err(err).Str("type", ft).Str("factory", fn).
							Str("instance", pn).Msg("destroy plugin failed")
					}
				}
			}
		}
	}
	pm.insMap = kept

	initialized := make([]initRecord, 0)
	for ft, s := range *newCfg {
		for k, c := range s {
			fn := getFactoryName(k)
			pn := getPluginNameFromCfg(c)
			if reloaded[ft+"/"+fn+"/"+pn] {
				continue
			}

			f := _factoryMap[fmt.Sprintf("%s_%s", ft, fn)]
			if f == nil {
				rollbackPlugins(initialized)
				return fmt.Errorf("plugin factory [%s/%s] not found", ft, fn)
			}
			ins, err := f.Setup(c)
			if err != nil {
				rollbackPlugins(initialized)
				return fmt.Errorf("plugin [%s/%s] setup failed: %v", ft, fn, err)
			}
			if err := registerPluginIns(ft, fn, pn, ins); err != nil {
				f.Destroy(ins, nil)
				rollbackPlugins(initialized)
				return err
			}
			initialized = append(initialized, initRecord{ft, fn, pn, ins})
		}
	}

	log.Info().Int("reloaded", len(reloaded)).
		Int("recreated", len(initialized)).
		Msg("plugin hot reload completed")
	return nil
}

func (pm *pluginMgr) lookup(ft, fn, pn string) Plugin {
	typeMap, ok := pm.insMap[ft]
	if !ok {
		return nil
	}
	factoryMap, ok := typeMap[fn]
	if !ok {
		return nil
	}
	return factoryMap[pn]
}

// registerPluginIns records an instance in the manager. Caller holds _pluginLock.
func registerPluginIns(ft, fn, pn string, ins Plugin) error {
	if _pluginMgr.insMap[ft] == nil {
		_pluginMgr.insMap[ft] = make(map[string]map[string]Plugin)
	}
	if _pluginMgr.insMap[ft][fn] == nil {
		_pluginMgr.insMap[ft][fn] = make(map[string]Plugin)
	}
	if _, exists := _pluginMgr.insMap[ft][fn][pn]; exists {
		return fmt.Errorf("plugin instance [%s/%s/%s] already registered", ft, fn, pn)
	}
	_pluginMgr.insMap[ft][fn][pn] = ins
	return nil
}

// getPluginNameFromCfg extracts the tag from config key-value pairs.
func getPluginNameFromCfg(c map[string]any) string {
	t, ok := c["tag"]
	if !ok {
		return DefaultInsName
	}
	tag, ok := t.(string)
	if !ok {
		return DefaultInsName
	}
	return tag
}

func getFactoryName(fn string) string {
	return strings.Split(fn, "_")[0]
}

// GetPlugin retrieves a plugin instance (thread-safe, zero-copy).
// ft: plugin type (e.g., "transport")
// fn: factory name (e.g., "loopback")
// pn: instance name (e.g., "main")
// Returns: plugin instance (requires type assertion), error.
func GetPlugin(ft, fn, pn string) (Plugin, error) {
	_pluginLock.RLock()
	defer _pluginLock.RUnlock()

	typeMap, ok := _pluginMgr.insMap[ft]
	if !ok {
		return nil, fmt.Errorf("plugin type [%s] not registered", ft)
	}

	factoryMap, ok := typeMap[fn]
	if !ok {
		return nil, fmt.Errorf("plugin factory [%s/%s] not found", ft, fn)
	}

	ins, ok := factoryMap[pn]
	if !ok {
		return nil, fmt.Errorf("plugin instance [%s/%s/%s] not found", ft, fn, pn)
	}

	return ins, nil
}

// GetDefaultPlugin retrieves the default instance.
func GetDefaultPlugin(ft, fn string) (Plugin, error) {
	return GetPlugin(ft, fn, DefaultInsName)
}

// MustGetPlugin retrieves a plugin and panics on failure.
// Use for critical plugins during startup.
func MustGetPlugin(ft, fn, pn string) Plugin {
	ins, err := GetPlugin(ft, fn, pn)
	if err != nil {
		log.Fatal().Err(err).Str("type", ft).Str("factory", fn).
			Str("instance", pn).Msg("critical plugin not found")
	}
	return ins
}

// ListPlugins lists all registered plugin instances.
// Return format: map["transport/loopback"] = ["main"].
func ListPlugins() map[string][]string {
	_pluginLock.RLock()
	defer _pluginLock.RUnlock()

	result := make(map[string][]string)
	for ft, typeMap := range _pluginMgr.insMap {
		for fn, factoryMap := range typeMap {
			key := fmt.Sprintf("%s/%s", ft, fn)
			for pn := range factoryMap {
				result[key] = append(result[key], pn)
			}
		}
	}
	return result
}

// rollbackPlugins destroys plugins created during a failed init, newest first.
func rollbackPlugins(plugins []initRecord) {
	if len(plugins) == 0 {
		return
	}

	log.Warn().Int("count", len(plugins)).Msg("rolling back initialized plugins")

	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		f := _factoryMap[fmt.Sprintf("%s_%s", p.ft, p.fn)]
		if f == nil {
			continue
		}
		if err := f.Destroy(p.ins, nil); err != nil {
			log.Error().Err(err).Str("type", p.ft).Str("factory", p.fn).
				Str("instance", p.pn).Msg("rollback failed")
		}
	}

	_pluginMgr.insMap = make(map[string]map[string]map[string]Plugin)
}

// listAvailableFactories lists available factories for error messages.
func listAvailableFactories(ft string) []string {
	var factories []string
	for key := range _factoryMap {
		if strings.HasPrefix(key, ft+"_") {
			factories = append(factories, strings.TrimPrefix(key, ft+"_"))
		}
	}
	return factories
}
