package transport

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nexusfleet/nexuscore/pkg/coreerr"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() { validate = validator.New() })
	return validate
}

// Validate checks req against its `validate` struct tags, returning an
// InvalidArgument CoreError on the first violation rather than validator's
// raw error type, so callers at the service-dispatch layer only ever see
// the coreerr taxonomy of errors.
func Validate(req any) error {
	if err := get().Struct(req); err != nil {
		return coreerr.InvalidArgument("Validate", "request", "", err)
	}
	return nil
}
