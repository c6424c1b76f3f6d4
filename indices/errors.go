package indices

import "fmt"

// MetadataQueryError is returned when the store fails to describe a
// requested index. It is fatal to an archive run.
type MetadataQueryError struct {
	Name string
	Err  error
}

func (e *MetadataQueryError) Error() string {
	return fmt.Sprintf("querying metadata of %q: %v", e.Name, e.Err)
}

func (e *MetadataQueryError) Unwrap() error { return e.Err }

// DuplicateNameError is returned when two different source indices would be
// archived under the same name after renaming.
type DuplicateNameError struct {
	Name    string
	Sources []string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("indices %q would both be archived as %q", e.Sources, e.Name)
}

// IndexCreationError is returned when an index could not be recreated.
// State is the step that failed.
type IndexCreationError struct {
	Index string
	State State
	Err   error
}

func (e *IndexCreationError) Error() string {
	return fmt.Sprintf("index %q: %s: %v", e.Index, e.State, e.Err)
}

func (e *IndexCreationError) Unwrap() error { return e.Err }

// MissingIndexRecordError is returned when a document arrives for an index
// that no earlier IndexRecord described.
type MissingIndexRecordError struct {
	Index string
	ID    string
}

func (e *MissingIndexRecordError) Error() string {
	return fmt.Sprintf("document %q of %q has no index record", e.ID, e.Index)
}
