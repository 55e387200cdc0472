package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

func TestValidator_Decode(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	t.Run("valid payload", func(t *testing.T) {
		lead, err := v.Decode(7, []byte(`{"email":"ceo@acme.com","company":"Acme","website":"https://acme.com","correlation_id":"c-1","audit_score":61.5}`))

		require.NoError(t, err)
		assert.Equal(t, "ceo@acme.com", lead.Email)
		assert.Equal(t, "Acme", lead.Company)
		assert.Equal(t, "c-1", lead.CorrelationID)
		require.NotNil(t, lead.AuditScore)
		assert.Equal(t, 61.5, *lead.AuditScore)
	})

	t.Run("null optional fields", func(t *testing.T) {
		lead, err := v.Decode(7, []byte(`{"email":"a@b.io","company":null,"website":null}`))

		require.NoError(t, err)
		assert.Empty(t, lead.Company)
		assert.Nil(t, lead.AuditScore)
	})

	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{name: "not json", payload: `{"email":`, reason: "payload is not valid JSON"},
		{name: "missing email", payload: `{"company":"Acme"}`, reason: "payload does not match lead schema"},
		{name: "malformed email", payload: `{"email":"not-an-address"}`, reason: "payload does not match lead schema"},
		{name: "audit score out of range", payload: `{"email":"a@b.io","audit_score":140}`, reason: "payload does not match lead schema"},
		{name: "array payload", payload: `[]`, reason: "payload does not match lead schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decode(42, []byte(tt.payload))

			require.Error(t, err)
			var compErr *domain.ComputationError
			require.True(t, errors.As(err, &compErr))
			assert.Equal(t, int64(42), compErr.ItemID)
			assert.Equal(t, tt.reason, compErr.Reason)
		})
	}
}
