package domain

import "errors"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrMalformedImport = errors.New("invalid file format")
	ErrUnknownPeriod   = errors.New("unknown period")
)
