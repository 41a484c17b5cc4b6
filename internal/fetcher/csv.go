package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/model"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV parses r on a goroutine and sends each row to the returned
// channel. The caller must drain rows; a read error or cancellation is sent
// on the error channel. Both channels close when parsing stops.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// SicCodeWidth is the digit count of a UK SIC 2007 code.
const SicCodeWidth = 5

// ParseSicCodes reads a two-column code,description table. A header row is
// skipped when its first cell is not numeric. Codes that lost their leading
// zeros are left-padded, rows without a numeric code are ignored, and the
// last description for a repeated code wins while first-seen order is kept.
func ParseSicCodes(ctx context.Context, r io.Reader) ([]model.SicCode, error) {
	rows, errs := StreamCSV(ctx, r, CSVOptions{LazyQuotes: true, TrimSpace: true})

	index := make(map[string]int)
	var out []model.SicCode
	for row := range rows {
		if len(row) < 2 {
			continue
		}
		code, ok := NormalizeSicCode(row[0])
		if !ok {
			continue
		}
		entry := model.SicCode{Code: code, Description: row[1]}
		if i, seen := index[code]; seen {
			out[i] = entry
			continue
		}
		index[code] = len(out)
		out = append(out, entry)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, eris.New("csv: no sic codes found")
	}
	return out, nil
}

// NormalizeSicCode strips a UTF-8 BOM and pads numeric codes to
// SicCodeWidth. It reports false for anything that is not a code.
func NormalizeSicCode(raw string) (string, bool) {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if s == "" || len(s) > SicCodeWidth {
		return "", false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return strings.Repeat("0", SicCodeWidth-len(s)) + s, true
}
