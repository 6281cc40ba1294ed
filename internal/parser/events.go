package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

var errInvalidValue = errors.New("invalid value")

// eventLine is the on-disk shape of a tap or print event.
type eventLine struct {
	Day       *looseString `json:"day"`
	EventData *struct {
		Position  *looseInt    `json:"position"`
		ValueProp *looseString `json:"value_prop"`
	} `json:"event_data"`
	UserID *looseInt `json:"user_id"`
}

// ParseEventLine decodes one JSON event line. Missing fields stay nil.
func ParseEventLine(kind types.Kind, line []byte) (types.EventRecord, error) {
	var ev *eventLine
	if err := json.Unmarshal(line, &ev); err != nil {
		if errors.Is(err, errInvalidValue) {
			return types.EventRecord{}, ierrors.NewParseError(ierrors.CodeInvalidValue, "invalid event field", err)
		}
		return types.EventRecord{}, ierrors.NewParseError(ierrors.CodeMalformedJSON, "malformed JSON line", err)
	}
	if ev == nil {
		return types.EventRecord{}, ierrors.NewParseError(ierrors.CodeMalformedJSON, "event line is null, not an object", nil)
	}

	rec := types.EventRecord{
		Kind:   kind,
		Day:    ev.Day.ptr(),
		UserID: ev.UserID.ptr(),
	}
	if ev.EventData != nil {
		rec.Position = ev.EventData.Position.ptr()
		rec.ValueProp = ev.EventData.ValueProp.ptr()
	}
	return rec, nil
}

// looseInt accepts a JSON number or a string holding a base-10 integer.
// Fractional numbers are truncated toward zero.
type looseInt int64

func (l *looseInt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", errInvalidValue, s)
		}
		*l = looseInt(n)
		return nil
	}

	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*l = looseInt(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return fmt.Errorf("%w: %s is not an integer", errInvalidValue, data)
	}
	*l = looseInt(math.Trunc(f))
	return nil
}

func (l *looseInt) ptr() *int64 {
	if l == nil {
		return nil
	}
	v := int64(*l)
	return &v
}

// looseString accepts a JSON string, or any other scalar kept as its
// literal JSON text.
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return fmt.Errorf("%w: expected a scalar, got %s", errInvalidValue, data)
	}
	*l = looseString(data)
	return nil
}

func (l *looseString) ptr() *string {
	if l == nil {
		return nil
	}
	v := string(*l)
	return &v
}
