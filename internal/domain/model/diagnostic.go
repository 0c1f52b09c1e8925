package model

import "time"

// Diagnostic is a derived finding. Diagnostics are never updated in place
// except for the Acknowledged flag.
type Diagnostic struct {
	ID           int64
	RepositoryID *int64 // Nil for findings spanning several repositories.
	Type         DiagnosticType
	Severity     Severity
	Title        string
	Message      string
	Metadata     map[string]any
	Acknowledged bool
	CreatedAt    time.Time
}
