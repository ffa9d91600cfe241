package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks cfg against its `validate` struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w", err)
	}
	return nil
}
