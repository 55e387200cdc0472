package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

func ptr(v float64) *float64 { return &v }

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		lead      domain.Lead
		want      int
		wantRules []string
	}{
		{
			name: "full marks without audit data",
			lead: domain.Lead{
				Email:   "ceo@acme.com",
				Company: "Acme Corp",
				Website: "https://acme.com",
			},
			// employee_count 5 + email 2 + ssl 3 + tld 8
			want:      18,
			wantRules: []string{"employee_count", "email_exists", "website_ssl", "company_size"},
		},
		{
			name: "audit score over the threshold",
			lead: domain.Lead{
				Email:      "ops@example.org",
				Company:    "Example",
				Website:    "http://example.org",
				AuditScore: ptr(72),
			},
			want:      10 + 5 + 2 + 8,
			wantRules: []string{"audit_score", "employee_count", "email_exists", "company_size"},
		},
		{
			name: "audit score exactly at the threshold counts",
			lead: domain.Lead{
				Email:      "a@b.io",
				AuditScore: ptr(50),
			},
			// empty company still estimates one employee
			want:      10 + 5 + 2,
			wantRules: []string{"audit_score", "employee_count", "email_exists"},
		},
		{
			name: "long company name exceeds the employee range",
			lead: domain.Lead{
				Email:   "x@y.de",
				Company: "International Business Machines Corporation Limited",
				Website: "https://ibm.de",
			},
			want:      2 + 3,
			wantRules: []string{"email_exists", "website_ssl"},
		},
		{
			name: "accented company name counts characters",
			lead: domain.Lead{
				Email:   "x@sg.fr",
				Company: "Société Générale Groupé",
			},
			want:      5 + 2,
			wantRules: []string{"employee_count", "email_exists"},
		},
		{
			name: "tld match is case insensitive",
			lead: domain.Lead{
				Email:   "x@y.z",
				Company: "Big",
				Website: "WWW.BIG.NET",
			},
			want:      5 + 2 + 8,
			wantRules: []string{"employee_count", "email_exists", "company_size"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.lead, DefaultWeights())

			assert.Equal(t, tt.want, got.Total)
			assert.Len(t, got.Breakdown, len(tt.wantRules))
			for _, rule := range tt.wantRules {
				assert.Contains(t, got.Breakdown, rule)
			}
		})
	}
}

func TestScore_CappedAtMax(t *testing.T) {
	w := DefaultWeights()
	w.CompanySizeBonus = 95

	got := Score(domain.Lead{Email: "a@b.com", Company: "Acme", Website: "https://a.com"}, w)

	assert.Equal(t, MaxScore, got.Total)
	assert.Equal(t, 95, got.Breakdown["company_size"])
}

func TestEstimatedEmployees(t *testing.T) {
	assert.Equal(t, 1, EstimatedEmployees(""))
	assert.Equal(t, 40, EstimatedEmployees("Acme"))
	// characters, not bytes
	assert.Equal(t, 230, EstimatedEmployees("Société Générale Groupé"))
}

func TestWeights_ApplyOverrides(t *testing.T) {
	w := DefaultWeights()

	rejected := w.ApplyOverrides(map[string]string{
		"scoring_email_exists_points": "4",
		"scoring_employee_count_max":  " 500 ",
		"scoring_website_ssl_points":  "lots",
		"scoring_unknown_rule":        "1",
	})

	assert.Equal(t, 4.0, w.EmailExistsPoints)
	assert.Equal(t, 500.0, w.EmployeeCountMax)
	assert.Equal(t, 3.0, w.WebsiteSSLPoints, "invalid value keeps the default")
	assert.ElementsMatch(t, []Override{
		{Key: "scoring_website_ssl_points", Value: "lots", Reason: "not a number"},
		{Key: "scoring_unknown_rule", Value: "1", Reason: "unknown scoring parameter"},
	}, rejected)
}
