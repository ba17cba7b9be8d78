package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FinancialYear identifies an Indian financial year (1 April to 31 March).
type FinancialYear struct {
	Code      string    `json:"code"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// ParseFinancialYear converts a code like "2025-26" into a FinancialYear.
// The second half must be the two-digit successor of the first.
func ParseFinancialYear(code string) (FinancialYear, error) {
	parts := strings.SplitN(strings.TrimSpace(code), "-", 2)
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return FinancialYear{}, fmt.Errorf("invalid financial year format: %q (expected YYYY-YY)", code)
	}

	startYear, err := strconv.Atoi(parts[0])
	if err != nil {
		return FinancialYear{}, fmt.Errorf("invalid start year in financial year: %q", code)
	}
	endSuffix, err := strconv.Atoi(parts[1])
	if err != nil {
		return FinancialYear{}, fmt.Errorf("invalid end year in financial year: %q", code)
	}
	if (startYear+1)%100 != endSuffix {
		return FinancialYear{}, fmt.Errorf("financial year %q does not span consecutive years", code)
	}

	return FinancialYear{
		Code:      fmt.Sprintf("%04d-%02d", startYear, endSuffix),
		StartDate: time.Date(startYear, time.April, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(startYear+1, time.March, 31, 23, 59, 59, 0, time.UTC),
	}, nil
}

// AssessmentYear returns the assessment year code that follows the financial year.
func (fy FinancialYear) AssessmentYear() string {
	start := fy.StartDate.Year() + 1
	return fmt.Sprintf("%04d-%02d", start, (start+1)%100)
}
