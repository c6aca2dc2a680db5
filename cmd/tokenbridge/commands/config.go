package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokenbridge/internal/app"
)

// envPrefix marks configuration variables: TOKENBRIDGE_BRIDGE__MOUNT → bridge.mount.
const envPrefix = "TOKENBRIDGE_"

// storeEnvPrefixKey is where the env backend's variable prefix lives in config.
const storeEnvPrefixKey = "storage.env_prefix"

// configLoader layers configuration sources onto one koanf instance.
// Later layers win: file, then environment, then flags. Defaults fill
// whatever is still empty.
type configLoader struct {
	k       *koanf.Koanf
	path    string
	cmd     *cli.Command
	environ func() []string
}

func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	l := &configLoader{
		k:       koanf.New("."),
		path:    configPath,
		cmd:     cmd,
		environ: environFunc,
	}

	layers := []struct {
		name string
		load func() error
	}{
		{"config file", l.loadFile},
		{"environment variables", l.loadEnv},
		{"CLI flags", l.loadFlags},
	}
	for _, layer := range layers {
		if err := layer.load(); err != nil {
			return nil, fmt.Errorf("loading %s: %w", layer.name, err)
		}
	}

	config := &app.Config{}
	if err := l.k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (l *configLoader) loadFile() error {
	if l.path == "" {
		return nil
	}
	return l.k.Load(file.Provider(l.path), toml.Parser())
}

// loadEnv maps TOKENBRIDGE_* variables onto config keys. Variables under the
// env backend's prefix hold tokens, not settings, and are left out.
func (l *configLoader) loadEnv() error {
	tokenPrefix := l.storeEnvPrefix()

	return l.k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			if tokenPrefix != "" && strings.HasPrefix(key, tokenPrefix) {
				return "", nil
			}
			return envKey(key), value
		},
		EnvironFunc: l.environ,
	}), nil)
}

func (l *configLoader) loadFlags() error {
	if l.cmd == nil {
		return nil
	}
	return l.k.Load(confmap.Provider(flagValues(l.cmd), "."), nil)
}

// storeEnvPrefix resolves storage.env_prefix ahead of the env layer, using the
// same precedence the finished config will have.
func (l *configLoader) storeEnvPrefix() string {
	if l.cmd != nil && l.cmd.IsSet("storage--env-prefix") {
		return l.cmd.String("storage--env-prefix")
	}
	if l.environ != nil {
		for _, kv := range l.environ() {
			name, value, ok := strings.Cut(kv, "=")
			if ok && strings.HasPrefix(name, envPrefix) && envKey(name) == storeEnvPrefixKey {
				return value
			}
		}
	}
	if v := l.k.String(storeEnvPrefixKey); v != "" {
		return v
	}
	return app.DefaultConfigEnvPrefix
}

// envKey turns TOKENBRIDGE_STORAGE__ENV_PREFIX into storage.env_prefix.
func envKey(name string) string {
	stripped := strings.TrimPrefix(name, envPrefix)
	return strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
}

// flagValues collects explicitly set flags, parents included, keyed like the
// config: --storage--sqlite-path → storage.sqlite_path, --log-level → log_level.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	for _, name := range cmd.FlagNames() {
		// Unset flags would mask file and env values with their defaults
		if name == "config" || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			values[strings.ReplaceAll(key, "-", "_")] = value
		}
	}

	return values
}
