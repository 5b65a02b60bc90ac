package sdk

import (
	"github.com/tombee/agentnorm/pkg/normalize"
	"github.com/tombee/agentnorm/pkg/repository"
)

// Result is the outcome of one Normalize call.
type Result struct {
	// Normalized is the structured result. It is always set, even when
	// writing failed.
	Normalized *normalize.Result

	// Files lists what was written. It is partial when writing failed.
	Files *repository.Manifest

	// OutDir is the directory the result was written to.
	OutDir string
}

// RunID returns the run identifier shared by logs, spans and events.
func (r *Result) RunID() string {
	if r == nil || r.Normalized == nil {
		return ""
	}
	return r.Normalized.RunID
}

// Fallback reports whether regex salvage produced the result.
func (r *Result) Fallback() bool {
	return r != nil && r.Normalized != nil && r.Normalized.IsFallback()
}
