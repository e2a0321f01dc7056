// Package export renders weld log reports and prints them to PDF with
// headless Chrome.
package export

import "errors"

// Request contains parameters for an export operation.
type Request struct {
	WeldLogID       string
	IncludeArchived bool
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the chromium runtime is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
