package model

import "errors"

// ErrNotFound is returned by stores when a team, level or entry does not exist.
var ErrNotFound = errors.New("not found")
