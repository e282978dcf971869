package apperrors

import "errors"

var (
	ErrSchemaUnavailable = errors.New("schema catalog unavailable")
	ErrNoTargetTable     = errors.New("no suitable target table")
	ErrUnsupportedEngine = errors.New("unsupported database engine")
)
