package plugin

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport 测试用传输插件实例
type fakeTransport struct {
	name      string
	buffer    int
	destroyed bool
	reloads   int
	busy      bool
	mu        sync.Mutex
}

func (p *fakeTransport) FactoryName() string { return "fake" }

type fakeFactory struct {
	setupErr  error
	reloadErr error
	created   []*fakeTransport
}

func (f *fakeFactory) Type() Type   { return Transport }
func (f *fakeFactory) Name() string { return "fake" }

func (f *fakeFactory) Setup(v map[string]any) (Plugin, error) {
	if f.setupErr != nil {
		return nil, f.setupErr
	}
	p := &fakeTransport{name: getPluginNameFromCfg(v)}
	if b, ok := v["buffer"].(int); ok {
		p.buffer = b
	}
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakeFactory) Destroy(p Plugin, _ any) error {
	ft := p.(*fakeTransport)
	ft.mu.Lock()
	ft.destroyed = true
	ft.mu.Unlock()
	return nil
}

func (f *fakeFactory) Reload(p Plugin, v map[string]any) error {
	if f.reloadErr != nil {
		return f.reloadErr
	}
	ft := p.(*fakeTransport)
	ft.mu.Lock()
	ft.reloads++
	if b, ok := v["buffer"].(int); ok {
		ft.buffer = b
	}
	ft.mu.Unlock()
	return nil
}

func (f *fakeFactory) CanDelete(p Plugin) bool {
	ft := p.(*fakeTransport)
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return !ft.busy
}

func resetPluginState() {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()
	_factoryMap = make(map[string]Factory)
	_pluginMgr.insMap = make(map[string]map[string]map[string]Plugin)
}

func TestSetupFromConfig(t *testing.T) {
	resetPluginState()
	f := &fakeFactory{}
	RegisterPlugin(f)

	cfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 128, "tag": "main"},
		},
	}
	_pluginLock.Lock()
	err := setupFromConfig(cfg)
	_pluginLock.Unlock()
	require.NoError(t, err)

	ins, err := GetPlugin("transport", "fake", "main")
	require.NoError(t, err)
	assert.Equal(t, 128, ins.(*fakeTransport).buffer)

	listed := ListPlugins()
	assert.Equal(t, []string{"main"}, listed["transport/fake"])
}

func TestSetupUnknownFactory(t *testing.T) {
	resetPluginState()

	cfg := PluginConfig{
		"transport": {
			"missing_x": {"tag": "x"},
		},
	}
	_pluginLock.Lock()
	err := setupFromConfig(cfg)
	_pluginLock.Unlock()
	assert.Error(t, err)
}

// setup失败时先前创建的实例必须回滚销毁
func TestSetupRollbackOnFailure(t *testing.T) {
	resetPluginState()
	good := &fakeFactory{}
	RegisterPlugin(good)

	cfg := PluginConfig{
		"transport": {
			"fake_a": {"tag": "a"},
		},
	}
	_pluginLock.Lock()
	require.NoError(t, setupFromConfig(cfg))
	_pluginLock.Unlock()

	// 第二次注册同名实例必须失败并回滚
	cfg2 := PluginConfig{
		"transport": {
			"fake_a": {"tag": "a"},
		},
	}
	_pluginLock.Lock()
	err := setupFromConfig(cfg2)
	_pluginLock.Unlock()
	assert.Error(t, err)
}

func TestGetDefaultPlugin(t *testing.T) {
	resetPluginState()
	f := &fakeFactory{}
	RegisterPlugin(f)

	cfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 64},
		},
	}
	_pluginLock.Lock()
	require.NoError(t, setupFromConfig(cfg))
	_pluginLock.Unlock()

	ins, err := GetDefaultPlugin("transport", "fake")
	require.NoError(t, err)
	assert.Equal(t, 64, ins.(*fakeTransport).buffer)
}

func TestHotReloadLightweight(t *testing.T) {
	resetPluginState()
	f := &fakeFactory{}
	RegisterPlugin(f)

	oldCfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 64, "tag": "main"},
		},
	}
	_pluginLock.Lock()
	require.NoError(t, setupFromConfig(oldCfg))
	_pluginLock.Unlock()

	newCfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 256, "tag": "main"},
		},
	}
	require.NoError(t, _pluginMgr.OnConfigChanged("plugin", &newCfg, &oldCfg))

	ins, err := GetPlugin("transport", "fake", "main")
	require.NoError(t, err)
	ft := ins.(*fakeTransport)
	assert.Equal(t, 256, ft.buffer)
	assert.Equal(t, 1, ft.reloads)
	assert.False(t, ft.destroyed)
}

func TestHotReloadRecreateWhenReloadFails(t *testing.T) {
	resetPluginState()
	f := &fakeFactory{reloadErr: fmt.Errorf("not supported")}
	RegisterPlugin(f)

	oldCfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 64, "tag": "main"},
		},
	}
	_pluginLock.Lock()
	require.NoError(t, setupFromConfig(oldCfg))
	_pluginLock.Unlock()
	first := f.created[0]

	newCfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 512, "tag": "main"},
		},
	}
	require.NoError(t, _pluginMgr.OnConfigChanged("plugin", &newCfg, &oldCfg))

	assert.True(t, first.destroyed)
	ins, err := GetPlugin("transport", "fake", "main")
	require.NoError(t, err)
	assert.Equal(t, 512, ins.(*fakeTransport).buffer)
}

func TestHotReloadBlockedByBusyPlugin(t *testing.T) {
	resetPluginState()
	f := &fakeFactory{}
	RegisterPlugin(f)

	oldCfg := PluginConfig{
		"transport": {
			"fake_main": {"tag": "main"},
		},
	}
	_pluginLock.Lock()
	require.NoError(t, setupFromConfig(oldCfg))
	_pluginLock.Unlock()
	f.created[0].busy = true

	newCfg := PluginConfig{
		"transport": {
			"fake_main": {"buffer": 1, "tag": "main"},
		},
	}
	err := _pluginMgr.OnConfigChanged("plugin", &newCfg, &oldCfg)
	assert.Error(t, err)
	assert.False(t, f.created[0].destroyed)
}

func TestPluginConfigValidate(t *testing.T) {
	var empty PluginConfig
	assert.Error(t, empty.Validate())

	bad := PluginConfig{"transport": {}}
	assert.Error(t, bad.Validate())

	ok := PluginConfig{"transport": {"fake_main": {"buffer": 1}}}
	assert.NoError(t, ok.Validate())
}
