package model

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DateOfBirth is the partial date of birth Companies House publishes.
// The day is withheld upstream.
type DateOfBirth struct {
	Month int `json:"month,omitempty"`
	Year  int `json:"year,omitempty"`
}

// DOBUnavailable is rendered when month or year is missing.
const DOBUnavailable = "Not available"

// Format renders the date as "May 1980". Both month and year are required.
func (d *DateOfBirth) Format() string {
	if d == nil || d.Month < 1 || d.Month > 12 || d.Year <= 0 {
		return DOBUnavailable
	}
	return time.Month(d.Month).String() + " " + strconv.Itoa(d.Year)
}

// OfficerLinks holds upstream API links for an appointment.
type OfficerLinks struct {
	Self    string          `json:"self,omitempty"`
	Officer *OfficerLinkSet `json:"officer,omitempty"`
}

// OfficerLinkSet holds links scoped to the officer rather than the appointment.
type OfficerLinkSet struct {
	Appointments string `json:"appointments,omitempty"`
}

// OfficerRecord mirrors one item of the officers endpoint response.
type OfficerRecord struct {
	Name                 string        `json:"name"`
	OfficerRole          string        `json:"officer_role"`
	AppointedOn          string        `json:"appointed_on,omitempty"`
	IsPre1992Appointment bool          `json:"is_pre_1992_appointment,omitempty"`
	Nationality          string        `json:"nationality,omitempty"`
	CountryOfResidence   string        `json:"country_of_residence,omitempty"`
	Occupation           string        `json:"occupation,omitempty"`
	PersonNumber         string        `json:"person_number,omitempty"`
	Address              *Address      `json:"address,omitempty"`
	DateOfBirth          *DateOfBirth  `json:"date_of_birth,omitempty"`
	Links                *OfficerLinks `json:"links,omitempty"`
}

// Officer is a persisted officer row belonging to a company.
type Officer struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
	OfficerRecord
}

var titleCaser = cases.Title(language.BritishEnglish)

// DisplayName converts the upstream "SURNAME, Given Middle" form into
// "Given Middle Surname". Names without a comma are only title-cased.
func (o OfficerRecord) DisplayName() string {
	name := strings.TrimSpace(o.Name)
	if name == "" {
		return ""
	}
	surname, given, ok := strings.Cut(name, ",")
	if !ok {
		return titleCaser.String(strings.ToLower(name))
	}
	full := strings.TrimSpace(given) + " " + strings.TrimSpace(surname)
	return titleCaser.String(strings.ToLower(strings.TrimSpace(full)))
}
