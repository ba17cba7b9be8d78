package domain

// RecommendationType classifies a recommendation.
type RecommendationType string

const (
	RecommendMandatory    RecommendationType = "Mandatory"
	RecommendOptimization RecommendationType = "Optimization"
	RecommendRiskAlert    RecommendationType = "RiskAlert"
	RecommendCompliance   RecommendationType = "Compliance"
	RecommendPlanning     RecommendationType = "Planning"
)

// Priority orders recommendations. Lower rank sorts first.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// Rank returns the sort position of the priority.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Confidence expresses how reliable the impact estimate is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Recommendation is a single quantified suggestion.
type Recommendation struct {
	RuleID         string             `json:"ruleId"`
	Type           RecommendationType `json:"type"`
	Category       string             `json:"category"`
	Priority       Priority           `json:"priority"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Reason         string             `json:"reason"`
	ImpactAmount   Money              `json:"impactAmount"`
	Confidence     Confidence         `json:"confidence"`
	ActionRequired bool               `json:"actionRequired"`
}

// RecommendationSummary aggregates a recommendation list.
type RecommendationSummary struct {
	Total                 int                        `json:"total"`
	ByType                map[RecommendationType]int `json:"byType"`
	ActionRequired        int                        `json:"actionRequired"`
	TotalPotentialSavings Money                      `json:"totalPotentialSavings"`
}

// RecommendationReport is the output of the recommendation stage.
type RecommendationReport struct {
	Recommendations []Recommendation      `json:"recommendations"`
	Summary         RecommendationSummary `json:"summary"`
}
