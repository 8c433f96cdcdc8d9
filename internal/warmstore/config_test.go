package warmstore

import "testing"

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Error("Enabled = false, want true")
	}
	if cfg.DataDir != "/var/camon/storage" {
		t.Errorf("DataDir = %q, want /var/camon/storage", cfg.DataDir)
	}
	if cfg.PrePadding.Seconds() != 5 {
		t.Errorf("PrePadding = %v, want 5s", cfg.PrePadding)
	}
	if cfg.PostPadding.Seconds() != 10 {
		t.Errorf("PostPadding = %v, want 10s", cfg.PostPadding)
	}
	if cfg.ObjectPrePadding.Seconds() != 30 {
		t.Errorf("ObjectPrePadding = %v, want 30s", cfg.ObjectPrePadding)
	}
	if cfg.ObjectPostPadding.Seconds() != 10 {
		t.Errorf("ObjectPostPadding = %v, want 10s", cfg.ObjectPostPadding)
	}
}
