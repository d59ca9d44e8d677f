package config

import "sync/atomic"

// Holder holds a Config that can be safely read from multiple goroutines
// and hot-reloaded from its backing YAML file without restarting the
// process. A failed Reload leaves the previously loaded Config in place.
type Holder struct {
	cfg      atomic.Pointer[Config]
	yamlPath string
}

// NewHolder wraps an already-loaded Config for hot-reload, remembering
// which YAML path to re-read on Reload.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{yamlPath: yamlPath}
	h.cfg.Store(cfg)
	return h
}

// Get returns the currently active Config.
func (h *Holder) Get() *Config {
	return h.cfg.Load()
}

// Reload re-runs the defaults < YAML < ENV hierarchy and, if the result
// validates, swaps it in atomically. On error the previous Config is kept.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.yamlPath)
	if err != nil {
		return err
	}
	h.cfg.Store(cfg)
	return nil
}
