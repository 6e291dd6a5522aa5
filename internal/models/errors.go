package models

import "errors"

// Pipeline failure classes. Stages wrap these with the record, title or task
// that failed; callers match them with errors.Is.
var (
	ErrSchema          = errors.New("schema error")
	ErrDateParse       = errors.New("date parse error")
	ErrJoin            = errors.New("join error")
	ErrUnsupportedTask = errors.New("unsupported task")
	ErrConfiguration   = errors.New("configuration error")
	ErrExternalService = errors.New("external service failure")
)
