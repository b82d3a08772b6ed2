// Package services implements the short-link protocols on top of store.Store:
// identifier allocation, the create coordinator, the ordered listing, the
// backfill reconciler and the audit/state ledger.
//
// This file centralizes the error taxonomy. Handlers translate these values
// into HTTP statuses; services never build transport responses themselves.
package services

import (
	"errors"

	"github.com/tbourn/go-shortlink-backend/internal/store"
)

var (
	// ErrNotFound indicates that no link exists for the (normalized) id.
	ErrNotFound = errors.New("link not found")

	// ErrDisabled is returned by Resolve for links an operator disabled.
	ErrDisabled = errors.New("link disabled")

	// ErrExpired is returned by Resolve for links past their expires_at.
	ErrExpired = errors.New("link expired")

	// ErrAllocationExhausted means the sequence CAS kept losing (or failing)
	// for every attempt the retry policy allowed.
	ErrAllocationExhausted = errors.New("id allocation exhausted")

	// ErrProtocolViolation re-exports the store sentinel for callers that only
	// import services.
	ErrProtocolViolation = store.ErrProtocolViolation
)

// ParamError reports invalid caller input.
type ParamError struct {
	Field string
	Msg   string
}

func (e *ParamError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func paramErr(field, msg string) error { return &ParamError{Field: field, Msg: msg} }

// StoreError wraps a failure of the underlying store during operation Op.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
