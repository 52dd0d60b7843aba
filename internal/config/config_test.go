package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pilotline/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if _, ok := cfg.Policies.Presets["balanced"]; !ok {
		t.Fatalf("default presets missing balanced: %v", cfg.Policies.Presets)
	}
	if cfg.HeartbeatTTLSeconds() != config.DefaultHeartbeatTTLSeconds {
		t.Fatalf("ttl: %d", cfg.HeartbeatTTLSeconds())
	}
	if cfg.DeletionBatchSize() != config.DefaultDeletionBatchSize {
		t.Fatalf("batch: %d", cfg.DeletionBatchSize())
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Policies.Presets) == 0 {
		t.Fatalf("fallback config empty")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `nodes:
  heartbeat_ttl_seconds: 30
deletion:
  batch_size: 5
policies:
  presets:
    tiny:
      models:
        coder: lite
`
	if err := os.WriteFile(filepath.Join(dir, "pilotline.yml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HeartbeatTTLSeconds() != 30 || cfg.DeletionBatchSize() != 5 {
		t.Fatalf("overrides not read: %+v", cfg)
	}
	if _, ok := cfg.Policies.Presets["tiny"]; !ok {
		t.Fatalf("preset not read")
	}
}

func TestValidateRejectsUnknownRolesAndModels(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no presets",
			yaml: `policies: {}`,
			want: "presets is required",
		},
		{
			name: "unknown role",
			yaml: "policies:\n  presets:\n    bad:\n      models:\n        chef: lite\n",
			want: "unknown role chef",
		},
		{
			name: "unknown model",
			yaml: "policies:\n  presets:\n    bad:\n      models:\n        coder: huge\n",
			want: "unknown model huge",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want %q, got %v", tc.want, err)
			}
		})
	}
}
