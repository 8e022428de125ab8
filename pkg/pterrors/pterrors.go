// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pterrors holds the standardized error kinds returned by the
// page-table engine and its façade.
package pterrors

// Kind is one of the four error kinds the engine can surface.
type Kind int

const (
	// InvalidArgs indicates a bad virtual address, physical address,
	// or flag set. It is raised only before any mutation.
	InvalidArgs Kind = iota
	// AlreadyExists indicates Map encountered a present terminal entry
	// in the target range.
	AlreadyExists
	// NoMemory indicates a table-frame allocation failed.
	NoMemory
	// NotFound indicates a query found no present terminal entry.
	NotFound
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case InvalidArgs:
		return "invalid arguments"
	case AlreadyExists:
		return "already exists"
	case NoMemory:
		return "no memory"
	case NotFound:
		return "not found"
	default:
		return "unknown error"
	}
}

// Error represents a page-table engine error with a descriptive
// message. Errors of the same Kind are not required to be the same
// pointer; callers should compare via Is, not equality.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Error implements error.
func (e *Error) Error() string {
	if e.message == "" {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.message
}

// Kind returns the underlying error kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	pe, ok := err.(*Error)
	return ok && pe.kind == kind
}
