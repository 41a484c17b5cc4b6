// Package export encodes a run's companies as JSON-lines and CSV artifacts
// and uploads them to object storage.
package export

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/model"
)

// CSVColumns is the fixed CSV column order.
var CSVColumns = []string{
	"company_number",
	"company_name",
	"company_status",
	"date_of_creation",
	"company_type",
	"address_line_1",
	"address_line_2",
	"locality",
	"postal_code",
	"country",
	"sic_codes",
}

// SICSeparator joins multiple SIC codes in one CSV cell.
const SICSeparator = "; "

// EncodeJSONL renders one JSON object per company, newline-joined, in the
// given order. Records carrying the upstream item are written verbatim
// (compacted onto one line); others are marshalled from the typed fields.
func EncodeJSONL(records []model.CompanyRecord) ([]byte, error) {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		if len(r.Raw) > 0 {
			var buf bytes.Buffer
			if err := json.Compact(&buf, r.Raw); err != nil {
				return nil, eris.Wrapf(err, "export: compact company %s", r.CompanyNumber)
			}
			lines = append(lines, buf.String())
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrapf(err, "export: marshal company %s", r.CompanyNumber)
		}
		lines = append(lines, string(b))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// EncodeCSV renders a header line followed by one row per company. Every
// row field is double-quoted with embedded quotes doubled, so the output is
// identical regardless of content.
func EncodeCSV(records []model.CompanyRecord) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(CSVColumns, ","))
	for _, r := range records {
		b.WriteByte('\n')
		for i, field := range csvRow(r) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(field))
		}
	}
	return []byte(b.String())
}

func csvRow(r model.CompanyRecord) []string {
	var addr model.Address
	if r.RegisteredOfficeAddress != nil {
		addr = *r.RegisteredOfficeAddress
	}
	return []string{
		r.CompanyNumber,
		r.CompanyName,
		r.CompanyStatus,
		r.DateOfCreation,
		r.CompanyType,
		addr.AddressLine1,
		addr.AddressLine2,
		addr.Locality,
		addr.PostalCode,
		addr.Country,
		strings.Join(r.SicCodes, SICSeparator),
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
