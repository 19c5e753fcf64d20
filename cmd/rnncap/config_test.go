package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "models_dir: /srv/models\nmode: beam\nbeam_size: 5\ntemperature: 0.5\ntop_k: 8\ntop_p: 0.9\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := loadConfigFile(path)
	if cfg.ModelsDir != "/srv/models" || cfg.Mode != "beam" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.BeamSize == nil || *cfg.BeamSize != 5 {
		t.Fatalf("beam_size not parsed: %v", cfg.BeamSize)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Fatalf("temperature not parsed: %v", cfg.Temperature)
	}
	if cfg.TopK == nil || *cfg.TopK != 8 || cfg.TopP == nil || *cfg.TopP != 0.9 {
		t.Fatalf("top_k/top_p not parsed: %v %v", cfg.TopK, cfg.TopP)
	}
	if cfg.Seed != nil || cfg.Workers != nil {
		t.Fatalf("unset fields should stay nil: %+v", cfg)
	}
}

func TestLoadConfigFileMissingOrInvalid(t *testing.T) {
	dir := t.TempDir()
	if cfg := loadConfigFile(filepath.Join(dir, "missing.yaml")); cfg.ModelsDir != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("mode: [beam"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if cfg := loadConfigFile(bad); cfg.Mode != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestDecodeFlagsRequest(t *testing.T) {
	d := decodeFlags{mode: "sample", beamSize: 4, temperature: 0.7, topK: 3, topP: 0.8, rankBy: "Likelihood", nbest: true}
	req, err := d.request()
	if err != nil {
		t.Fatalf("request returned error: %v", err)
	}
	if req.Mode != "sample" || req.BeamSize != 4 || !req.RankByLikelihood || !req.NBest {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.TopK != 3 || req.TopP != float32(0.8) {
		t.Fatalf("unexpected request: %+v", req)
	}
	d.rankBy = "score"
	if _, err := d.request(); err == nil {
		t.Fatalf("expected error for unknown rank-by")
	}
}
