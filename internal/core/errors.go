package core

import "errors"

var (
	// ErrEmptySelection is returned by a delete request without targets.
	ErrEmptySelection = errors.New("nothing selected")
	// ErrNotDirectory is returned when a container operation gets an object.
	ErrNotDirectory = errors.New("not a directory or bucket")
	// ErrIllegalState is returned for an operation the current mode forbids.
	ErrIllegalState = errors.New("operation not allowed in current state")
	// ErrNotVisible is returned when toggling a path outside the current view.
	ErrNotVisible = errors.New("path is not in the current listing")
)
