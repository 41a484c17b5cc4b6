package model

import "time"

// ContactProfile is the profile snippet returned by the people search.
type ContactProfile struct {
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	Employer string `json:"employer,omitempty"`
	Location string `json:"location,omitempty"`
}

// OfficerContact is the latest contact lookup result for an officer.
// There is at most one per officer; every lookup overwrites it.
type OfficerContact struct {
	OfficerID   string          `json:"officer_id"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	LinkedInURL string          `json:"linkedin_url,omitempty"`
	Found       bool            `json:"found"`
	Error       string          `json:"error,omitempty"`
	Source      string          `json:"source,omitempty"`
	Profile     *ContactProfile `json:"profile,omitempty"`
	SearchedAt  time.Time       `json:"searched_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OfficerWithContact pairs an officer with its stored contact, if any.
type OfficerWithContact struct {
	Officer
	Contact *OfficerContact `json:"contact,omitempty"`
}
