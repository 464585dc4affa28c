// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput indicates a request that failed validation.
var ErrInvalidInput = errors.New("invalid input")
