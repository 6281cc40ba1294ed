package types

import "encoding/json"

// Batch is an ordered group of records from a single source file.
type Batch struct {
	// Kind is the kind of the file every record belongs to
	Kind Kind

	// Index is the zero-based position of the batch within its file
	Index int

	// Records holds at most the configured batch size, in source order
	Records []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}

// MarshalJSON encodes the batch as a bare JSON array of its records, which
// is the body shape the ingestion API expects.
func (b Batch) MarshalJSON() ([]byte, error) {
	if b.Records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.Records)
}
