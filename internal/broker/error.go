// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package broker

import "fmt"

// Error is an error returned by the broker.
type Error struct {
	Message string `json:"error"`
	Code    int    `json:"code,omitempty"`
}

// Error implements error.
func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("broker error %d: %s", e.Code, e.Message)
	}
	return "broker error: " + e.Message
}
