package models

import "time"

// Hospital is one place returned by the hospital search tool.
type Hospital struct {
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Rating       float64 `json:"rating"`
	TotalRatings int     `json:"total_ratings"`
}

// VaccinationSchedule is one row of the immunization schedule.
type VaccinationSchedule struct {
	ID            int64  `json:"id"`
	VaccineName   string `json:"vaccine_name"`
	Description   string `json:"description"`
	AgeDueInWeeks int    `json:"age_due_in_weeks"`
}

// User is a registered chatbot user.
type User struct {
	ID                 int64     `json:"id"`
	PhoneNumber        string    `json:"phone_number"`
	FullName           string    `json:"full_name,omitempty"`
	LanguagePreference Language  `json:"language_preference"`
	CreatedAt          time.Time `json:"created_at"`
}

// Validation constants for user input
const (
	MinPhoneNumberLength = 10
	MaxPhoneNumberLength = 15
)

// Finding is one label/probability pair from the X-ray classifier.
type Finding struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}
