package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrUnknownRole  = errors.New("auth: unknown role")
)
