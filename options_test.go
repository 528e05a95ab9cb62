package dnsdisco

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigFinalize(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.instanceID == "" {
		t.Fatalf("expected a generated instance id")
	}
	if cfg.Domain != DefaultDomain {
		t.Fatalf("unexpected default domain: %q", cfg.Domain)
	}
}

func TestWithDomainRejectsEmpty(t *testing.T) {
	cfg := defaultConfig()
	if err := WithDomain("")(&cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestWithStoreLimitsRejectsNegative(t *testing.T) {
	cfg := defaultConfig()
	if err := WithStoreLimits(-1, 10)(&cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative ttl, got %v", err)
	}
	if err := WithStoreLimits(time.Second, -1)(&cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative limit, got %v", err)
	}
}

func TestWithInstanceIDOverridesRandomID(t *testing.T) {
	cfg := defaultConfig()
	if err := WithInstanceID("fixed-id")(&cfg); err != nil {
		t.Fatalf("WithInstanceID: %v", err)
	}
	if err := cfg.finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.instanceID != "fixed-id" {
		t.Fatalf("expected instance id to stay fixed, got %q", cfg.instanceID)
	}
}

func TestWithErrorHandlerRejectsNil(t *testing.T) {
	cfg := defaultConfig()
	if err := WithErrorHandler(nil)(&cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for nil handler, got %v", err)
	}
}

func TestWithTrackersParsesEveryAddress(t *testing.T) {
	cfg := defaultConfig()
	if err := WithTrackers([]string{"a.example.com", "b.example.com:5353"})(&cfg); err != nil {
		t.Fatalf("WithTrackers: %v", err)
	}
	if len(cfg.Trackers) != 2 {
		t.Fatalf("expected 2 trackers, got %d", len(cfg.Trackers))
	}
	if cfg.Trackers[1].Port != 5353 {
		t.Fatalf("unexpected port for second tracker: %d", cfg.Trackers[1].Port)
	}
}
