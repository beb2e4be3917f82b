package executor

import "errors"

var (
	// ErrIncidentNotFound means the investigation's case identifier matched
	// no incident record. No further stages run.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrCorrelationSpec means a correlation intent is missing its target
	// index or join field.
	ErrCorrelationSpec = errors.New("correlationTarget and correlationField are required")
)
