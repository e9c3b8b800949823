// Package diagnostics formats heap verification and collector errors and
// prints them in a consistent way.
package diagnostics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/andypeng2015/esgc/gc"
)

// A single diagnostic.
type Diagnostic struct {
	Ref gc.Ref // zero when the error is not tied to an object
	Tag string
	Msg string
}

// One or multiple errors of a particular heap.
type HeapDiagnostic struct {
	Heap        string // name of the heap, as given by the caller
	Diagnostics []Diagnostic
}

// Diagnostics of a whole program. This can include errors belonging to
// multiple heaps, or just a single heap.
type ProgramDiagnostic []HeapDiagnostic

// CreateDiagnostics reads the underlying errors in the error object and
// creates a set of diagnostics that's sorted and can be readily printed.
func CreateDiagnostics(heap string, err error) ProgramDiagnostic {
	if err == nil {
		return nil
	}
	return ProgramDiagnostic{
		createHeapDiagnostic(heap, err),
	}
}

func createHeapDiagnostic(heap string, err error) HeapDiagnostic {
	heapDiag := HeapDiagnostic{Heap: heap}
	heapDiag.Diagnostics = createDiagnostics(err)

	// Object diagnostics in address order, object-less ones first.
	sort.SliceStable(heapDiag.Diagnostics, func(i, j int) bool {
		return heapDiag.Diagnostics[i].Ref < heapDiag.Diagnostics[j].Ref
	})
	return heapDiag
}

// Extract diagnostics from the given error and return them as a slice (which
// in many cases will just be a single diagnostic).
func createDiagnostics(err error) []Diagnostic {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var diags []Diagnostic
		for _, err := range multi.Unwrap() {
			diags = append(diags, createDiagnostics(err)...)
		}
		return diags
	}
	var verifyErrs gc.VerifyErrors
	var abortErr *gc.AbortError
	var assertErr *gc.AssertionError
	switch {
	case errors.As(err, &verifyErrs):
		var diags []Diagnostic
		for _, e := range verifyErrs {
			diags = append(diags, Diagnostic{Ref: e.Ref, Tag: e.Tag, Msg: e.Msg})
		}
		return diags
	case errors.As(err, &abortErr):
		return []Diagnostic{{Msg: "aborted: " + abortErr.Err.Error()}}
	case errors.As(err, &assertErr):
		buf := &bytes.Buffer{}
		fmt.Fprintln(buf, "collector invariant broken:")
		fmt.Fprint(buf, "\t"+assertErr.Msg)
		return []Diagnostic{{Msg: buf.String()}}
	}
	return []Diagnostic{
		{Msg: err.Error()},
	}
}

// Write program diagnostics to the given writer.
func (progDiag ProgramDiagnostic) WriteTo(w io.Writer) {
	for _, heapDiag := range progDiag {
		heapDiag.WriteTo(w)
	}
}

// Write heap diagnostics to the given writer.
func (heapDiag HeapDiagnostic) WriteTo(w io.Writer) {
	if heapDiag.Heap != "" {
		fmt.Fprintln(w, "#", heapDiag.Heap)
	}
	for _, diag := range heapDiag.Diagnostics {
		diag.WriteTo(w)
	}
}

// Write this diagnostic to the given writer.
func (diag Diagnostic) WriteTo(w io.Writer) {
	if diag.Ref == 0 {
		fmt.Fprintln(w, diag.Msg)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", diag.Ref, diag.Tag, diag.Msg)
}
