package model

import (
	"encoding/json"
	"time"
)

// Address is a postal address as returned by Companies House.
type Address struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	Locality     string `json:"locality,omitempty"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
	Premises     string `json:"premises,omitempty"`
}

// CompanyRecord mirrors one item of the advanced-search response verbatim.
// Field order drives the JSON-lines export, so keep it stable.
type CompanyRecord struct {
	CompanyNumber           string   `json:"company_number"`
	CompanyName             string   `json:"company_name"`
	CompanyStatus           string   `json:"company_status"`
	CompanyType             string   `json:"company_type,omitempty"`
	DateOfCreation          string   `json:"date_of_creation"`
	RegisteredOfficeAddress *Address `json:"registered_office_address,omitempty"`
	SicCodes                []string `json:"sic_codes,omitempty"`

	// Raw is the item exactly as received, including fields not modelled
	// above. The JSON-lines export writes it in place of the typed fields.
	Raw json.RawMessage `json:"-"`
}

// Company is a persisted company row belonging to a run.
type Company struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	CompanyRecord
}
