package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

const leadSchemaURL = "lead.schema.json"

// LeadSchema describes a valid work item payload
const LeadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["email"],
  "properties": {
    "email": {"type": "string", "minLength": 3, "pattern": "^[^@\\s]+@[^@\\s]+$"},
    "company": {"type": ["string", "null"], "maxLength": 512},
    "website": {"type": ["string", "null"], "maxLength": 2048},
    "correlation_id": {"type": ["string", "null"]},
    "audit_score": {"type": ["number", "null"], "minimum": 0, "maximum": 100}
  }
}`

// Validator checks and decodes work item payloads
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the lead payload schema
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(leadSchemaURL, bytes.NewReader([]byte(LeadSchema))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(leadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Decode validates a payload and returns the lead it describes
func (v *Validator) Decode(itemID int64, payload []byte) (domain.Lead, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.Lead{}, domain.NewComputationError(itemID, "payload is not valid JSON", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return domain.Lead{}, domain.NewComputationError(itemID, "payload does not match lead schema", err)
	}

	var lead domain.Lead
	if err := json.Unmarshal(payload, &lead); err != nil {
		return domain.Lead{}, domain.NewComputationError(itemID, "payload cannot be decoded", err)
	}
	return lead, nil
}
