package domain

import "errors"

var (
	ErrInvalidKey          = errors.New("invalid key")
	ErrInvalidElementType  = errors.New("invalid element type")
	ErrInvalidEventType    = errors.New("invalid timeline event type")
	ErrNotFound            = errors.New("not found")
	ErrMissingTenant       = errors.New("element carries no tenant")
	ErrMissingIdentity     = errors.New("element carries no identifier")
	ErrDispatchFailed      = errors.New("timeline dispatch failed")
	ErrQueueClosed         = errors.New("queue closed")
	ErrArchiveDisabled     = errors.New("archive storage not configured")
	ErrArchiveMismatch     = errors.New("archived object differs from export")
	ErrMalformedAttributes = errors.New("malformed timeline attributes")
	// ErrStoreUnavailable marks timeline store failures worth retrying.
	ErrStoreUnavailable    = errors.New("timeline store unavailable")
)
