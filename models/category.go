package models

// NoThreatCategoryID is the sentinel category for findings that carry no OWASP risk
const NoThreatCategoryID = 0

// Category is an entry of the OWASP API Security Top 10 taxonomy
type Category struct {
	ID          int    `json:"owasp_id" db:"id"`
	Name        string `json:"owasp_name" db:"name"`
	Description string `json:"owasp_description" db:"description"`
}

// PriorityLevel mirrors the ZAP riskcode of an alert
type PriorityLevel int

const (
	PriorityInformational PriorityLevel = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

// Valid reports whether p is one of the seeded priorities
func (p PriorityLevel) Valid() bool {
	return p >= PriorityInformational && p <= PriorityHigh
}

func (p PriorityLevel) String() string {
	switch p {
	case PriorityInformational:
		return "Informational"
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// Priority is a severity tier reference row
type Priority struct {
	ID          PriorityLevel `json:"prio_id" db:"id"`
	Name        string        `json:"prio_name" db:"name"`
	Description string        `json:"prio_description" db:"description"`
}
