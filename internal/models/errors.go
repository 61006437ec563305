package models

import "errors"

// Error taxonomy shared by the engine and its collaborators. Callers compare
// with errors.Is; richer detail travels in wrapping types such as
// document.ParseError and submit.DeniedError.
var (
	ErrParse             = errors.New("malformed document")
	ErrNotFound          = errors.New("not found")
	ErrStaleLocation     = errors.New("stale location")
	ErrAmbiguous         = errors.New("ambiguous match")
	ErrComplianceDenied  = errors.New("compliance review denied")
	ErrRemoteUnavailable = errors.New("remote service unavailable")
)
