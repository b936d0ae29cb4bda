package store

import (
	"context"
	"fmt"
)

// Backend is the durable side of the store. It knows nothing about the
// in-memory index and addresses files by name only.
type Backend interface {
	// Init makes sure the storage location exists.
	Init(ctx context.Context) error

	// LoadAll returns every file found in the storage location. Files that
	// cannot be read are skipped; an error is returned only when the
	// location itself cannot be enumerated.
	LoadAll(ctx context.Context) ([]File, error)

	// WriteFile creates or truncates name with content. The write must be
	// complete when WriteFile returns nil.
	WriteFile(ctx context.Context, name string, content []byte) error

	fmt.Stringer
}

func persistenceError(op, name string, err error) error {
	if name == "" {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
	return fmt.Errorf("%w: %s %q: %w", ErrPersistence, op, name, err)
}
