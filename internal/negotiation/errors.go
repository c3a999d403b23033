/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned by all session operations once the
// underlying connection has reached its terminal closed state. It is also
// delivered to every inbound candidate callback which was still pending at
// close time.
var ErrConnectionClosed = errors.New("connection closed")

// CandidateError wraps a transport rejection of a remote ICE candidate. It
// is surfaced through the callback of the submission which caused it and is
// never retried.
type CandidateError struct {
	Err error
}

func (err *CandidateError) Error() string {
	return fmt.Sprintf("candidate rejected: %v", err.Err)
}

func (err *CandidateError) Unwrap() error {
	return err.Err
}

// IsCandidateRejected reports whether err is a candidate rejection.
func IsCandidateRejected(err error) bool {
	var ce *CandidateError
	return errors.As(err, &ce)
}
