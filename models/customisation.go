package models

// DefaultRiskWeight is seeded for every OWASP category of a new user
const DefaultRiskWeight = 10

// User owns a set of risk weights
type User struct {
	ID    int    `json:"user_id" db:"id"`
	Name  string `json:"user_name" db:"name"`
	Email string `json:"user_email" db:"email"`
}

// RiskWeight is the per-user weighting of one OWASP category
type RiskWeight struct {
	UserID     int    `json:"user_id" db:"user_id"`
	CategoryID int    `json:"owasp_id" db:"category_id"`
	Category   string `json:"owasp_cat" db:"category_name"`
	Weight     int    `json:"weight" db:"weight"`
}

// RiskWeightFilter narrows customisation listings. Zero values mean no filter.
type RiskWeightFilter struct {
	UserID   int
	Category string
}
