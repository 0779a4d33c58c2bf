// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package metadata

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

// Error is the error class for metadata parse/emit failures.
var Error = errs.Class("metadata")

// UnresolvedError is returned by Emit when one or more manifest entries
// serialize larger than MaxInlineSubEntry. The caller must insert each
// Pending Metadata as its own top-level document, obtain a URI for it,
// replace the corresponding entry's Body with a SimpleRedirect to that URI,
// and call Emit again.
type UnresolvedError struct {
	Pending []Metadata
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("metadata: %d sub-entries exceed the inline size limit and must be resolved before emit", len(e.Pending))
}

// AsUnresolved reports whether err is (or wraps) an *UnresolvedError.
func AsUnresolved(err error) (*UnresolvedError, bool) {
	var u *UnresolvedError
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}
