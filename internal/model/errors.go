package model

import "errors"

// ErrConfiguration marks invalid or mutually inconsistent run parameters.
// ErrData marks malformed partitions or shape mismatches. Both are fatal
// before training starts and are matched with errors.Is.
var (
	ErrConfiguration = errors.New("invalid configuration")
	ErrData          = errors.New("invalid data")
)
