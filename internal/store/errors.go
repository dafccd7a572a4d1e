package store

import "errors"

var (
	ErrTableNotFound       = errors.New("table not found")
	ErrNoCompatibleColumns = errors.New("no compatible columns")
	ErrBusy                = errors.New("database busy")
)
