package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings configure the listener. They come from the environment so a
// deployed server needs no flags.
type Settings struct {
	Addr            string        `env:"PIPLAN_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath        string        `env:"PIPLAN_BASE_PATH" envDefault:"/v0"`
	JWTSecret       string        `env:"PIPLAN_JWT_SECRET"`
	ReadTimeout     time.Duration `env:"PIPLAN_READ_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"PIPLAN_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// LoadSettings parses Settings from the process environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}
