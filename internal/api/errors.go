package api

import "errors"

var (
	ErrNotFound        = errors.New("space or participant not found")
	ErrRateLimited     = errors.New("rate limited by relay")
	ErrPayloadTooLarge = errors.New("screen image too large")
	ErrBadRequest      = errors.New("request rejected by relay")
	ErrConflict        = errors.New("access code already in use")
)
