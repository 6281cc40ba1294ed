// Package types provides the core data types for the ingestion adapter.
package types

// Record is one typed row produced from a raw line of a source file.
type Record interface {
	// RecordKind returns the kind of file the record was parsed from.
	RecordKind() Kind
}

// EventRecord is a tap or print event.
// Fields absent from the source line are serialized as null.
type EventRecord struct {
	// Kind is the originating file kind (taps or prints); not serialized
	Kind Kind `json:"-"`

	// Day is the event day as found in the source line
	Day *string `json:"day"`

	// Position is event_data.position cast to an integer
	Position *int64 `json:"position"`

	// ValueProp is event_data.value_prop
	ValueProp *string `json:"value_prop"`

	// UserID is user_id cast to an integer
	UserID *int64 `json:"user_id"`
}

// RecordKind implements Record.
func (e EventRecord) RecordKind() Kind {
	return e.Kind
}

// PaymentRecord is one row of the payments CSV. Values are copied unchanged.
type PaymentRecord struct {
	PayDate   string `json:"pay_date"`
	Total     string `json:"total"`
	UserID    string `json:"user_id"`
	ValueProp string `json:"value_prop"`
}

// RecordKind implements Record.
func (p PaymentRecord) RecordKind() Kind {
	return KindPays
}
