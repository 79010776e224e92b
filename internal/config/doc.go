// Package config loads logstreams settings from JSON or YAML files and
// overlays LOGSTREAMS_* environment variables.
//
//	cfg, err := config.Load("/etc/logstreams.yaml")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
