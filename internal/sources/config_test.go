package sources

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/divyekant/subdash/internal/fetch"
)

func TestParseSourcesConfig(t *testing.T) {
	yamlData := `
sources:
  datiya:
    base_url: https://mirror.example.com
  v2rayc:
    mirrors:
      - https://m1.example.com/README.md
      - https://m2.example.com/README.md
  ripao:
    enabled: false
`
	cfg, err := ParseSourcesConfig([]byte(yamlData))
	if err != nil {
		t.Fatalf("ParseSourcesConfig: %v", err)
	}

	datiya, ok := cfg.Sources["datiya"]
	if !ok {
		t.Fatal("datiya source not found")
	}
	if datiya.Settings["base_url"] != "https://mirror.example.com" {
		t.Errorf("datiya base_url: got %q", datiya.Settings["base_url"])
	}
	if !datiya.Enabled() {
		t.Error("datiya should be enabled by default")
	}

	v2 := cfg.Sources["v2rayc"]
	want := []string{"https://m1.example.com/README.md", "https://m2.example.com/README.md"}
	if !reflect.DeepEqual(v2.ListSettings["mirrors"], want) {
		t.Errorf("v2rayc mirrors: got %v, want %v", v2.ListSettings["mirrors"], want)
	}

	if cfg.Sources["ripao"].Enabled() {
		t.Error("ripao should be disabled")
	}
}

func TestParseSourcesConfig_Empty(t *testing.T) {
	cfg, err := ParseSourcesConfig([]byte(""))
	if err != nil {
		t.Fatalf("ParseSourcesConfig: %v", err)
	}
	if cfg.Sources == nil {
		t.Error("Sources map should be initialized")
	}
}

func TestParseSourcesConfig_Invalid(t *testing.T) {
	if _, err := ParseSourcesConfig([]byte("sources: [unterminated")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadSourcesConfig_Missing(t *testing.T) {
	cfg, err := LoadSourcesConfig(filepath.Join(t.TempDir(), "sources.yaml"))
	if err != nil {
		t.Fatalf("LoadSourcesConfig: %v", err)
	}
	if cfg != nil {
		t.Error("missing file should return nil config")
	}
}

func TestLoadSourcesConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte("sources:\n  freev2:\n    url: https://x.example.com/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadSourcesConfig(path)
	if err != nil {
		t.Fatalf("LoadSourcesConfig: %v", err)
	}
	if cfg.Sources["freev2"].Settings["url"] != "https://x.example.com/" {
		t.Errorf("freev2 url: got %q", cfg.Sources["freev2"].Settings["url"])
	}
}

func TestSaveSourcesConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sources.yaml")
	cfg := &SourcesYAML{Sources: map[string]SourceEntry{
		"v2rayc": {
			Settings:     map[string]string{"readme_url": "https://raw.example.com/README.md"},
			ListSettings: map[string][]string{"mirrors": {"https://m1.example.com/", "https://m2.example.com/"}},
		},
		"freev2": {Settings: map[string]string{"enabled": "false"}},
	}}
	if err := SaveSourcesConfig(path, cfg); err != nil {
		t.Fatalf("SaveSourcesConfig: %v", err)
	}

	got, err := LoadSourcesConfig(path)
	if err != nil {
		t.Fatalf("LoadSourcesConfig: %v", err)
	}
	v := got.Sources["v2rayc"]
	if v.Settings["readme_url"] != "https://raw.example.com/README.md" {
		t.Errorf("readme_url = %q", v.Settings["readme_url"])
	}
	if !reflect.DeepEqual(v.ListSettings["mirrors"], []string{"https://m1.example.com/", "https://m2.example.com/"}) {
		t.Errorf("mirrors = %v", v.ListSettings["mirrors"])
	}
	if got.Sources["freev2"].Enabled() {
		t.Error("freev2 should stay disabled after a round trip")
	}
}

func TestBuildRegistry_Defaults(t *testing.T) {
	reg := BuildRegistry(fetch.New(fetch.Config{}), nil, nil)
	if !reflect.DeepEqual(reg.SourceNames(), KnownSources) {
		t.Errorf("SourceNames = %v, want %v", reg.SourceNames(), KnownSources)
	}
	if d := reg.Dated(); d == nil || d.Name() != "datiya" {
		t.Errorf("Dated() = %v, want datiya", d)
	}
	if got := len(reg.ByKind(Latest)); got != 5 {
		t.Errorf("Latest sources = %d, want 5", got)
	}
}

func TestBuildRegistry_DisabledAndMisconfigured(t *testing.T) {
	cfg, err := ParseSourcesConfig([]byte(`
sources:
  ripao:
    enabled: false
  datiya:
    base_url: "not a url"
  unknown:
    foo: bar
`))
	if err != nil {
		t.Fatal(err)
	}
	reg := BuildRegistry(fetch.New(fetch.Config{}), cfg, nil)

	if _, err := reg.Get("ripao"); err == nil {
		t.Error("disabled source should not be registered")
	}
	if _, err := reg.Get("datiya"); err == nil {
		t.Error("misconfigured source should be skipped")
	}
	if _, err := reg.Get("unknown"); err == nil {
		t.Error("unknown source should not be registered")
	}
	if _, err := reg.Get("freev2"); err != nil {
		t.Errorf("freev2 should still be registered: %v", err)
	}
}

func TestNewSourceByName_Unknown(t *testing.T) {
	if _, err := NewSourceByName("nope", nil); err == nil {
		t.Error("expected error for unknown source")
	}
}
