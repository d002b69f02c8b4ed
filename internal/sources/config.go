package sources

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/divyekant/subdash/internal/atomicfile"
	"github.com/divyekant/subdash/internal/fetch"
)

// SourcesYAML is the parsed representation of sources.yaml.
type SourcesYAML struct {
	Sources map[string]SourceEntry `yaml:"sources"`
}

// SourceEntry is a single source definition in the yaml file.
type SourceEntry struct {
	// Flat key-value settings (e.g., "base_url: https://...").
	Settings map[string]string `yaml:"-"`
	// List settings (e.g., "mirrors: [https://a, https://b]").
	ListSettings map[string][]string `yaml:"-"`
	// Raw holds the unparsed YAML node for flexible parsing.
	Raw map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements custom unmarshalling to separate scalar vs list values.
func (se *SourceEntry) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	se.Raw = raw
	se.Settings = make(map[string]string)
	se.ListSettings = make(map[string][]string)

	for k, v := range raw {
		switch val := v.(type) {
		case string:
			se.Settings[k] = val
		case bool:
			se.Settings[k] = fmt.Sprintf("%v", val)
		case int:
			se.Settings[k] = fmt.Sprintf("%d", val)
		case float64:
			se.Settings[k] = fmt.Sprintf("%g", val)
		case []interface{}:
			var items []string
			for _, item := range val {
				items = append(items, fmt.Sprintf("%v", item))
			}
			se.ListSettings[k] = items
		}
	}
	return nil
}

// MarshalYAML writes scalar and list settings back as one mapping.
func (se SourceEntry) MarshalYAML() (interface{}, error) {
	out := make(map[string]interface{}, len(se.Settings)+len(se.ListSettings))
	for k, v := range se.Settings {
		out[k] = v
	}
	for k, v := range se.ListSettings {
		out[k] = v
	}
	return out, nil
}

// Enabled reports whether the entry leaves the source switched on.
func (se SourceEntry) Enabled() bool {
	return se.Settings["enabled"] != "false"
}

// ParseSourcesConfig parses a sources.yaml document.
func ParseSourcesConfig(data []byte) (*SourcesYAML, error) {
	var cfg SourcesYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sources config: %w", err)
	}
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]SourceEntry)
	}
	return &cfg, nil
}

// LoadSourcesConfig reads and parses the sources file at path.
// Returns nil (no error) if the file doesn't exist.
func LoadSourcesConfig(path string) (*SourcesYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sources config: %w", err)
	}
	return ParseSourcesConfig(data)
}

// SaveSourcesConfig writes cfg to path, replacing the file atomically.
func SaveSourcesConfig(path string, cfg *SourcesYAML) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("sources config: %w", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return fmt.Errorf("sources config: %w", err)
	}
	return nil
}

// KnownSources lists every built-in source name in registration order.
var KnownSources = []string{"datiya", "freev2", "bestclash", "shaoyou", "ripao", "v2rayc"}

// NewSourceByName returns a new unconfigured source for the given name.
func NewSourceByName(name string, client *fetch.Client) (Source, error) {
	switch name {
	case "datiya":
		return NewDatiyaSource(client), nil
	case "freev2":
		return NewFreeV2Source(client), nil
	case "bestclash":
		return NewBestClashSource(client), nil
	case "shaoyou":
		return NewShaoyouSource(client), nil
	case "ripao":
		return NewRipaoSource(client), nil
	case "v2rayc":
		return NewV2raycSource(client), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}

// BuildRegistry registers every built-in source, applying overrides from
// yamlCfg when present. Sources switched off with "enabled: false" are left
// out; misconfigured sources are logged and skipped.
func BuildRegistry(client *fetch.Client, yamlCfg *SourcesYAML, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()

	for _, name := range KnownSources {
		src, err := NewSourceByName(name, client)
		if err != nil {
			continue
		}

		cfg := SourceConfig{Settings: make(map[string]string)}
		if yamlCfg != nil {
			if entry, ok := yamlCfg.Sources[name]; ok {
				if !entry.Enabled() {
					logger.Info("sources: disabled by config", "source", name)
					continue
				}
				for k, v := range entry.Settings {
					cfg.Settings[k] = v
				}
				// Lists are passed comma-separated.
				for k, v := range entry.ListSettings {
					cfg.Settings[k] = strings.Join(v, ",")
				}
			}
		}

		if err := src.Configure(cfg); err != nil {
			logger.Warn("sources: skipping misconfigured source", "source", name, "error", err)
			continue
		}
		reg.Register(src)
	}

	if yamlCfg != nil {
		for name := range yamlCfg.Sources {
			if !lo.Contains(KnownSources, name) {
				logger.Warn("sources: ignoring unknown source in config", "source", name)
			}
		}
	}
	return reg
}

// splitList splits a comma-separated setting, trimming blanks.
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
