package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

// Payment CSV columns, matched by header name.
const (
	ColPayDate   = "pay_date"
	ColTotal     = "total"
	ColUserID    = "user_id"
	ColValueProp = "value_prop"
)

var paymentColumns = []string{ColPayDate, ColTotal, ColUserID, ColValueProp}

// ParsePayments parses a header-bearing CSV of payments. Columns are located
// by name, so extra or reordered columns are fine. A row that lacks one of
// the payment columns is yielded as a MISSING_COLUMN error.
func ParsePayments(r io.Reader) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, csvError(err, "failed to read CSV header"))
			return
		}

		index := columnIndex(header)
		var absent []string
		for _, col := range paymentColumns {
			if _, ok := index[col]; !ok {
				absent = append(absent, col)
			}
		}

		for {
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					if !yield(nil, withLine(csvError(err, "malformed CSV row"), pe.Line)) {
						return
					}
					continue
				}
				yield(nil, csvError(err, "failed reading CSV content"))
				return
			}

			line, _ := reader.FieldPos(0)
			rec, err := paymentFromRow(row, index, absent)
			if err != nil {
				if !yield(nil, withLine(err, line)) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func paymentFromRow(row []string, index map[string]int, absent []string) (types.PaymentRecord, error) {
	missing := append([]string(nil), absent...)
	get := func(col string) string {
		i, ok := index[col]
		if !ok {
			return ""
		}
		if i >= len(row) {
			missing = append(missing, col)
			return ""
		}
		return row[i]
	}

	rec := types.PaymentRecord{
		PayDate:   get(ColPayDate),
		Total:     get(ColTotal),
		UserID:    get(ColUserID),
		ValueProp: get(ColValueProp),
	}
	if len(missing) > 0 {
		return types.PaymentRecord{}, ierrors.NewParseError(ierrors.CodeMissingColumn,
			fmt.Sprintf("row is missing column(s) %s", strings.Join(missing, ", ")), nil)
	}
	return rec, nil
}

// columnIndex maps header names to positions. The first occurrence of a
// duplicated name wins.
func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return index
}

func csvError(err error, message string) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return ierrors.NewParseError(ierrors.CodeMalformedCSV, message, err)
	}
	return ierrors.NewReadError(ierrors.CodeReadFailed, message, err)
}
