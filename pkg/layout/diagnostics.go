// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/ffsengine/pkg/log"
)

// Severity of a diagnostic record.
type Severity int

// Severities, in increasing order.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Record is one diagnostic. Err is set when the record corresponds to one
// of the sentinel errors, so callers can test it with errors.Is.
type Record struct {
	Path     Path
	Severity Severity
	Text     string
	Err      error
}

func (r Record) String() string {
	return fmt.Sprintf("%s: %v: %s", r.Severity, r.Path, r.Text)
}

// Error makes a record usable as an error value.
func (r Record) Error() string {
	return r.String()
}

// Unwrap returns the taxonomy error of the record.
func (r Record) Unwrap() error {
	return r.Err
}

// Diagnostics is an ordered, append-only list of records. The zero value is
// ready to use and does not log.
type Diagnostics struct {
	records []Record
	logger  log.Logger
}

// NewDiagnostics returns a channel mirroring every record into logger.
func NewDiagnostics(logger log.Logger) *Diagnostics {
	return &Diagnostics{logger: logger}
}

// Add appends a record.
func (d *Diagnostics) Add(r Record) {
	d.records = append(d.records, r)
	if d.logger == nil {
		return
	}
	switch r.Severity {
	case SeverityInfo:
		d.logger.Infof("%v: %s", r.Path, r.Text)
	case SeverityWarning:
		d.logger.Warnf("%v: %s", r.Path, r.Text)
	default:
		d.logger.Errorf("%v: %s", r.Path, r.Text)
	}
}

// Infof appends an info record.
func (d *Diagnostics) Infof(p Path, format string, args ...interface{}) {
	d.Add(Record{Path: p, Severity: SeverityInfo, Text: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning. err may be nil.
func (d *Diagnostics) Warnf(p Path, err error, format string, args ...interface{}) {
	d.Add(Record{Path: p, Severity: SeverityWarning, Text: fmt.Sprintf(format, args...), Err: err})
}

// Errorf appends an error record. err may be nil.
func (d *Diagnostics) Errorf(p Path, err error, format string, args ...interface{}) {
	d.Add(Record{Path: p, Severity: SeverityError, Text: fmt.Sprintf(format, args...), Err: err})
}

// Len returns the number of records.
func (d *Diagnostics) Len() int {
	return len(d.records)
}

// Records returns the records in the order they were added.
func (d *Diagnostics) Records() []Record {
	return append([]Record(nil), d.records...)
}

// Filter returns the records of severity s.
func (d *Diagnostics) Filter(s Severity) []Record {
	var out []Record
	for _, r := range d.records {
		if r.Severity == s {
			out = append(out, r)
		}
	}
	return out
}

// Matching returns the records whose Err matches target.
func (d *Diagnostics) Matching(target error) []Record {
	var out []Record
	for _, r := range d.records {
		if r.Err != nil && errors.Is(r.Err, target) {
			out = append(out, r)
		}
	}
	return out
}

// Err aggregates the error records, or returns nil if there are none.
func (d *Diagnostics) Err() error {
	var result *multierror.Error
	for _, r := range d.records {
		if r.Severity == SeverityError {
			result = multierror.Append(result, r)
		}
	}
	return result.ErrorOrNil()
}

// Reset drops every record.
func (d *Diagnostics) Reset() {
	d.records = nil
}
