package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds single database round trips
	DefaultTimeout = 10 * time.Second

	// IndexTimeout bounds a vector index build, which scans the whole collection
	IndexTimeout = 30 * time.Minute

	// LockTimeout bounds run lock calls against Redis
	LockTimeout = 2 * time.Second
)

// WithTimeout creates a context with default timeout
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

// WithIndexTimeout creates a context for building the vector index
func WithIndexTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, IndexTimeout)
}

// WithLockTimeout creates a context for acquiring or releasing the run lock
func WithLockTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LockTimeout)
}
