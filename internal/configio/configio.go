// Package configio is bunctl's configuration collaborator. It loads a declarative
// app list from YAML/TOML/JSON via viper + mapstructure, exactly the
// teacher's internal/config pattern, and decodes it into the hard core's
// immutable app.Config — cmd/bunctl and cmd/bunctld depend on this package;
// internal/app, internal/controller, internal/registry never do.
package configio

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/env"
)

// File is the top-level document shape bunctl config files take. Grounded
// on a global env block plus a list of entries, simplified to bunctl's
// single "app" concern (a prior
// groups/store/history/server/metrics sub-blocks live in their own adapted
// loaders — internal/appgroup, internal/httpapi — not here).
type File struct {
	UseOSEnv bool                `mapstructure:"use_os_env"`
	Env      map[string]string   `mapstructure:"env"`
	Apps     []map[string]any    `mapstructure:"apps"`
	Groups   map[string][]string `mapstructure:"groups"`
	Cron     []CronEntry         `mapstructure:"cron"`
}

// CronEntry declares one scheduled one-shot run in a config file, matching
// internal/cronapp.Job's shape minus the app.Config the caller already
// registered under Name.
type CronEntry struct {
	Name     string `mapstructure:"name"`
	App      string `mapstructure:"app"`
	Schedule string `mapstructure:"schedule"`
}

// Load reads path (any format viper supports by extension: yaml, toml,
// json, ...) and returns the normalized, defaulted, validated app.Config
// list it describes.
func Load(path string) ([]app.Config, error) {
	file, err := read(path)
	if err != nil {
		return nil, err
	}
	return Resolve(file)
}

// LoadFile reads path like Load, but also returns the raw File so a caller
// (cmd/bunctld) can pick up the groups/cron blocks Resolve doesn't consume.
func LoadFile(path string) (File, []app.Config, error) {
	file, err := read(path)
	if err != nil {
		return File{}, nil, err
	}
	apps, err := Resolve(file)
	return file, apps, err
}

func read(path string) (File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("configio: read %s: %w", path, err)
	}

	var file File
	if err := v.Unmarshal(&file, func(c *mapstructure.DecoderConfig) {
		c.TagName = "mapstructure"
		c.WeaklyTypedInput = true
	}); err != nil {
		return File{}, fmt.Errorf("configio: decode %s: %w", path, err)
	}
	return file, nil
}

// Resolve decodes each raw app entry, merges the file's global env block
// into each app's own Env per internal/env's base/globals/expand rules, and
// runs app.Config.WithDefaults + Validate so callers get a registration-
// ready value.
func Resolve(file File) ([]app.Config, error) {
	globalEnv := env.New()
	for k, v := range file.Env {
		globalEnv = globalEnv.WithSet(k, v)
	}

	out := make([]app.Config, 0, len(file.Apps))
	for i, raw := range file.Apps {
		cfg, err := decodeApp(raw)
		if err != nil {
			return nil, fmt.Errorf("configio: app[%d]: %w", i, err)
		}
		// internal/env.Env always snapshots the OS environment as its base
		// layer (see env.ensureBase) and applies globals then per-app
		// overrides on top, expanding ${VAR} references throughout — this
		// is how an UseOSEnv-agnostic env composer behaves;
		// file.UseOSEnv is accepted for config-format compatibility but
		// has no independent effect here (see DESIGN.md Open Questions).
		cfg.Env = mergeEnv(globalEnv, cfg.Env)
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configio: app %q: %w", cfg.Name, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func decodeApp(raw map[string]any) (app.Config, error) {
	var cfg app.Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return cfg, fmt.Errorf("app requires a name")
	}
	return cfg, nil
}

// mergeEnv flattens internal/env's base(OS)->globals->per-app-override
// merge and ${VAR} expansion into a plain map, since app.Config.Env is a
// map (the core never imports internal/env — resolution happens here,
// once, at load time, keeping app.Config immutable and self-contained
// once registered).
func mergeEnv(globalEnv *env.Env, perApp map[string]string) map[string]string {
	perAppSlice := make([]string, 0, len(perApp))
	for k, v := range perApp {
		perAppSlice = append(perAppSlice, k+"="+v)
	}
	merged := make(map[string]string, len(perAppSlice))
	for _, kv := range globalEnv.Merge(perAppSlice) {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	return merged
}
