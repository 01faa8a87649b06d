package server

import (
	"testing"
	"time"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if s.BasePath != "/v0" || s.ReadTimeout != 30*time.Second || s.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("PIPLAN_ADDR", "0.0.0.0:9000")
	t.Setenv("PIPLAN_JWT_SECRET", "s3cret")
	t.Setenv("PIPLAN_SHUTDOWN_TIMEOUT", "1s")
	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if s.Addr != "0.0.0.0:9000" || s.JWTSecret != "s3cret" || s.ShutdownTimeout != time.Second {
		t.Fatalf("unexpected settings %+v", s)
	}

	t.Setenv("PIPLAN_READ_TIMEOUT", "soon")
	if _, err := LoadSettings(); err == nil {
		t.Fatalf("expected duration parse error")
	}
}
