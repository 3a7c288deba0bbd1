package repository

import (
	"errors"

	"github.com/okian/birdscore/internal/domain/model"
)

// Sentinel kinds for storage errors.
var (
	ErrNotFound        = model.ErrNotFound
	ErrAlreadyExists   = model.ErrConflict
	ErrVersionConflict = errors.New("session version conflict")
	ErrClosed          = errors.New("store closed")
)
