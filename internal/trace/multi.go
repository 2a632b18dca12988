package trace

import (
	"context"
	"errors"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// Multi fans every record out to all tracers. It keeps going past failures
// and returns them joined.
type Multi []schemas.Tracer

var _ schemas.Tracer = Multi(nil)

// NewMulti drops nil tracers.
func NewMulti(tracers ...schemas.Tracer) Multi {
	m := make(Multi, 0, len(tracers))
	for _, t := range tracers {
		if t != nil {
			m = append(m, t)
		}
	}
	return m
}

func (m Multi) Record(ctx context.Context, event schemas.TraceEvent) error {
	var errs []error
	for _, t := range m {
		if err := t.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SaveImage(ctx context.Context, step int, name string, png []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.SaveImage(ctx, step, name, png); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
