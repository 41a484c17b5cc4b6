package model

// SicCode is a Standard Industrial Classification code lookup entry.
type SicCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}
