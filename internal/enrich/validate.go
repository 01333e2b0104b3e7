package enrich

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/weave/internal/jobs"
)

//go:embed enrichment.schema.json
var enrichmentSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func enrichmentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true
		if err := compiler.AddResource("enrichment.schema.json", strings.NewReader(enrichmentSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add enrichment schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("enrichment.schema.json")
	})
	return schema, schemaErr
}

// Enrichment is the validated model output attached to a story.
type Enrichment struct {
	SummaryNeutral  string `json:"summary_neutral"`
	SummaryCategory string `json:"summary_category"`
	Severity        string `json:"severity"`
}

// ParseEnrichment validates raw model output against the schema and a few
// semantic checks the schema cannot express. Validation failures are
// tagged invalid_response so they count against the story, not the
// infrastructure.
func ParseEnrichment(raw json.RawMessage) (Enrichment, error) {
	var enrichment Enrichment

	value, err := decodeStrictJSON(raw)
	if err != nil {
		return enrichment, jobs.WrapCategory(jobs.CategoryJSONParse, fmt.Errorf("decode enrichment JSON: %w", err))
	}

	compiled, err := enrichmentSchema()
	if err != nil {
		return enrichment, err
	}
	if err := compiled.Validate(value); err != nil {
		return enrichment, jobs.WrapCategory(jobs.CategoryInvalidResponse, fmt.Errorf("enrichment schema validation: %w", err))
	}

	if err := json.Unmarshal(raw, &enrichment); err != nil {
		return enrichment, jobs.WrapCategory(jobs.CategoryJSONParse, fmt.Errorf("unmarshal enrichment: %w", err))
	}

	if strings.TrimSpace(enrichment.SummaryNeutral) == "" {
		return enrichment, jobs.WrapCategory(jobs.CategoryInvalidResponse, fmt.Errorf("summary_neutral is blank"))
	}

	return enrichment, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("enrichment contains trailing content")
	}
	return value, nil
}
