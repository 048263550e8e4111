package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener is implemented by components that want to be notified
// when a configuration they depend on is hot-reloaded from disk.
// Listeners are invoked synchronously after the new configuration has been
// validated and stored; returning an error aborts the remaining listeners
// but does not roll back the stored configuration.
type ConfigChangeListener interface {
	// OnConfigChanged is called with the configuration name, the freshly
	// loaded configuration and the previous one.
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}
