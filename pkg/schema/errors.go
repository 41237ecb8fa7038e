package schema

import (
	"errors"
	"fmt"
)

// error taxonomy shared by all packages. Callers match with errors.Is.
var (
	ErrConnection        = errors.New("connection failure")
	ErrSchemaConflict    = errors.New("schema conflict")
	ErrUnsafeInheritance = fmt.Errorf("unsafe inheritance: %w", ErrSchemaConflict)
	ErrNotFound          = errors.New("not found")
	ErrDuplicateKey      = errors.New("duplicate primary key")
	ErrInvalidPredicate  = errors.New("invalid predicate")
	ErrConversion        = errors.New("type conversion failure")
	ErrUnsupported       = errors.New("unsupported operation")
	ErrMissingKey        = errors.New("missing primary key")
)
