package domain

// FreePlanID is the implicit zero-cost tier. It never goes through the
// payment flow; init rejects it.
const FreePlanID = "free"

// Plan represents a purchasable subscription plan
type Plan struct {
	PlanID         string   `json:"plan_id"`
	Name           string   `json:"name"`
	DurationMonths int      `json:"duration_months"`
	Price          float64  `json:"price"`
	OriginalPrice  float64  `json:"original_price,omitempty"`
	Currency       string   `json:"currency"`
	Popular        bool     `json:"popular,omitempty"`
	Features       []string `json:"features"`
	Active         bool     `json:"active"`
}

// Snapshot copies the plan terms into an immutable purchase-time snapshot
func (p Plan) Snapshot() PlanSnapshot {
	return PlanSnapshot{
		PlanID:         p.PlanID,
		Name:           p.Name,
		DurationMonths: p.DurationMonths,
		Price:          p.Price,
		Currency:       p.Currency,
	}
}

// DefaultPlans returns the built-in plan catalog
func DefaultPlans() []Plan {
	return []Plan{
		{
			PlanID:         "monthly",
			Name:           "Monthly Plan",
			DurationMonths: 1,
			Price:          50,
			Currency:       "BDT",
			Features: []string{
				"Read unlimited articles",
				"Participate in quizzes",
				"Save bookmarks",
				"Ad-free experience",
				"Premium support",
			},
			Active: true,
		},
		{
			PlanID:         "half_yearly",
			Name:           "Six-Month Plan",
			DurationMonths: 6,
			Price:          250,
			OriginalPrice:  300,
			Currency:       "BDT",
			Popular:        true,
			Features: []string{
				"Read unlimited articles",
				"Participate in quizzes",
				"Save bookmarks",
				"Ad-free experience",
				"Premium support",
				"Priority customer support",
			},
			Active: true,
		},
		{
			PlanID:         "yearly",
			Name:           "Yearly Plan",
			DurationMonths: 12,
			Price:          500,
			OriginalPrice:  600,
			Currency:       "BDT",
			Features: []string{
				"Read unlimited articles",
				"Participate in quizzes",
				"Save bookmarks",
				"Ad-free experience",
				"Premium support",
				"Priority customer support",
				"Exclusive content access",
			},
			Active: true,
		},
	}
}
