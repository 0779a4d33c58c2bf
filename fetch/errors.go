// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package fetch

import "github.com/zeebo/errs"

// Error is the error class for top-level fetch/insert orchestration
// failures. Most concrete failures are produced by a lower package
// (metadata.Parse, fec, splitfile, archive); this package adds the few that
// belong to orchestration itself.
var Error = errs.Class("fetch")

// ErrRecursionTooDeep is RecursionTooDeep: depth exceeded MaxRecursionLevel.
var ErrRecursionTooDeep = Error.New("RECURSION_TOO_DEEP")

// ErrNotEnoughMetaStrings is raised when a SimpleManifest is reached with no
// further meta-string to consume and no usable default document.
var ErrNotEnoughMetaStrings = Error.New("NOT_ENOUGH_META_STRINGS")

// ErrEntryNotFound signals a named manifest entry does not exist.
var ErrEntryNotFound = Error.New("ENTRY_NOT_FOUND")

// ErrTooManyPathComponents is TooManyPathComponents: the URI carried
// meta-strings no manifest along the descent consumed.
var ErrTooManyPathComponents = Error.New("TOO_MANY_PATH_COMPONENTS")

// ErrRedirectsDisabled fires when FetchContext.FollowRedirects is false and
// a SimpleRedirect is encountered.
var ErrRedirectsDisabled = Error.New("REDIRECTS_DISABLED")

// ErrSplitfilesDisabled fires when FetchContext.AllowSplitfiles is false
// and a splitfile target is encountered.
var ErrSplitfilesDisabled = Error.New("SPLITFILES_DISABLED")

// ErrUnsafeContentType is UnsafeContentType: the document's MIME type is
// not in FetchContext.AllowedMIMETypes.
var ErrUnsafeContentType = Error.New("UNSAFE_CONTENT_TYPE")

// ErrNoEnclosingArchive fires when an ArchiveInternalRedirect is reached
// outside of any archive descent.
var ErrNoEnclosingArchive = Error.New("NO_ENCLOSING_ARCHIVE")

// ErrCancelled is Cancelled: the request's context was cancelled.
var ErrCancelled = Error.New("CANCELLED")

// ErrArchiveLoop is ArchiveLoop, surfaced from archive.ErrLoopDetected.
var ErrArchiveLoop = Error.New("ARCHIVE_LOOP")

// ErrArchiveFailure is ArchiveFailure, surfaced from archive.FailureError.
var ErrArchiveFailure = Error.New("ARCHIVE_FAILURE")
