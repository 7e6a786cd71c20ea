package core

import (
	"fmt"

	"github.com/rs/zerolog"
)

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

// ParseEnvironment accepts the values of the --env flag.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case DevelopmentEnv, ProductionEnv:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown environment %q, want %q or %q", s, DevelopmentEnv, ProductionEnv)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}

// LogLevel is the global zerolog level for the environment.
func (e Environment) LogLevel() zerolog.Level {
	if e.IsDevelopment() {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
