// Package scoring holds the lead scoring function and its tunable weights.
package scoring

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

// MaxScore caps every lead score
const MaxScore = 100

// ConfigKeyPrefix marks config table rows that override a weight
const ConfigKeyPrefix = "scoring_"

// Weights are the tunable scoring parameters
type Weights struct {
	AuditScoreWeight    float64
	AuditScoreThreshold float64
	AuditScorePoints    float64
	EmployeeCountMin    float64
	EmployeeCountMax    float64
	EmployeeCountPoints float64
	EmailExistsPoints   float64
	WebsiteSSLPoints    float64
	CompanySizeBonus    float64
}

// DefaultWeights returns the weights used when the config table has no override
func DefaultWeights() Weights {
	return Weights{
		AuditScoreWeight:    0.4,
		AuditScoreThreshold: 50,
		AuditScorePoints:    10,
		EmployeeCountMin:    1,
		EmployeeCountMax:    250,
		EmployeeCountPoints: 5,
		EmailExistsPoints:   2,
		WebsiteSSLPoints:    3,
		CompanySizeBonus:    8,
	}
}

func (w *Weights) fields() map[string]*float64 {
	return map[string]*float64{
		"audit_score_weight":    &w.AuditScoreWeight,
		"audit_score_threshold": &w.AuditScoreThreshold,
		"audit_score_points":    &w.AuditScorePoints,
		"employee_count_min":    &w.EmployeeCountMin,
		"employee_count_max":    &w.EmployeeCountMax,
		"employee_count_points": &w.EmployeeCountPoints,
		"email_exists_points":   &w.EmailExistsPoints,
		"website_ssl_points":    &w.WebsiteSSLPoints,
		"company_size_bonus":    &w.CompanySizeBonus,
	}
}

// Override is one rejected config row
type Override struct {
	Key    string
	Value  string
	Reason string
}

// ApplyOverrides sets weights from config rows keyed "scoring_<name>".
// Rows with an unknown name or a non-numeric value are returned and left out.
func (w *Weights) ApplyOverrides(rows map[string]string) []Override {
	fields := w.fields()

	var rejected []Override
	for key, raw := range rows {
		name := strings.TrimPrefix(key, ConfigKeyPrefix)
		dst, ok := fields[name]
		if !ok {
			rejected = append(rejected, Override{Key: key, Value: raw, Reason: "unknown scoring parameter"})
			continue
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			rejected = append(rejected, Override{Key: key, Value: raw, Reason: "not a number"})
			continue
		}
		*dst = v
	}
	return rejected
}

// EstimatedEmployees approximates company size until enrichment data exists
func EstimatedEmployees(company string) int {
	n := utf8.RuneCountInString(company) * 10
	if n < 1 {
		return 1
	}
	return n
}

var wellKnownTLDs = []string{".com", ".org", ".net"}

// Score applies the weights to a lead. A missing audit score counts as 0.
func Score(lead domain.Lead, w Weights) domain.Score {
	breakdown := make(map[string]int)
	total := 0.0

	add := func(rule string, points float64) {
		total += points
		breakdown[rule] = int(math.Round(points))
	}

	audit := 0.0
	if lead.AuditScore != nil {
		audit = *lead.AuditScore
	}
	if audit >= w.AuditScoreThreshold {
		add("audit_score", w.AuditScorePoints)
	}

	employees := float64(EstimatedEmployees(lead.Company))
	if employees >= w.EmployeeCountMin && employees <= w.EmployeeCountMax {
		add("employee_count", w.EmployeeCountPoints)
	}

	if lead.Email != "" {
		add("email_exists", w.EmailExistsPoints)
	}

	if strings.HasPrefix(lead.Website, "https://") {
		add("website_ssl", w.WebsiteSSLPoints)
	}

	website := strings.ToLower(lead.Website)
	for _, tld := range wellKnownTLDs {
		if strings.Contains(website, tld) {
			add("company_size", w.CompanySizeBonus)
			break
		}
	}

	score := int(math.Round(total))
	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}

	return domain.Score{Total: score, Breakdown: breakdown}
}
