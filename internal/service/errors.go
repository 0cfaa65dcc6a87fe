package service

import (
	"errors"

	"github.com/hwalton/brickstock/internal/store"
)

var (
	// ErrNotConnected means the owner has no stored credentials for the platform.
	ErrNotConnected = errors.New("platform not connected")
	// ErrSyncInProgress mirrors the store error so handlers need only this package.
	ErrSyncInProgress = store.ErrSyncInProgress
	// ErrUnsupported is returned for a platform/kind pair with no sync.
	ErrUnsupported = errors.New("sync not supported for platform")
)
