package reports

import "errors"

// ErrActiveReportExists: a non-terminal report already exists for the document (HTTP 409).
var ErrActiveReportExists = errors.New("an analysis is already in progress for this document")

// ErrNotFound: no report for the given id / correlation id (HTTP 404).
var ErrNotFound = errors.New("audit report not found")

// ErrDocumentMismatch: callback document_id disagrees with the stored report (HTTP 400).
var ErrDocumentMismatch = errors.New("callback document_id does not match report")

// ErrAlreadyTerminal: attempted transition out of completed/failed.
// Absorbed as a benign no-op on the callback path, loud everywhere else.
var ErrAlreadyTerminal = errors.New("audit report already in a terminal state")

// ErrNotCompleted: operation requires a completed report (e.g. PDF export).
var ErrNotCompleted = errors.New("audit report is not completed yet")
