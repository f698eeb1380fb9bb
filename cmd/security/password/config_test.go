package password

import (
	"errors"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Params.Parallelism < 1 || cfg.Params.Parallelism > 4 {
		t.Fatalf("parallelism not clamped: %d", cfg.Params.Parallelism)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"memory too low":   func(c *Config) { c.Params.MemoryKiB = 1024 },
		"zero iterations":  func(c *Config) { c.Params.Iterations = 0 },
		"zero parallelism": func(c *Config) { c.Params.Parallelism = 0 },
		"short salt":       func(c *Config) { c.Params.SaltLength = 4 },
		"short key":        func(c *Config) { c.Params.KeyLength = 8 },
		"min above max":    func(c *Config) { c.Policy.MinLength = 20; c.Policy.MaxLength = 10 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestNewHasher_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Params.Iterations = 0
	if _, err := NewHasher(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
