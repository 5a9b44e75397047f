package document

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bosworks/bos/core/pkg/reject"
)

const policyName = "document_policy"

// Validator checks command payloads against template layouts. Compiled
// JSON Schemas are cached per template.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks that payload provides every required layout field and,
// when the template carries a schema, conforms to it.
func (v *Validator) Validate(tpl Template, payload map[string]any) *reject.Rejection {
	var missing []string
	for _, f := range tpl.RequiredFields {
		if _, ok := payload[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		r := reject.Newf(reject.CodeDocumentTemplateInvalid, policyName,
			"payload missing required document fields: %s", strings.Join(missing, ", "))
		return &r
	}

	if tpl.SchemaJSON != "" {
		schema, err := v.compiled(tpl)
		if err != nil {
			r := reject.New(reject.CodeDocumentTemplateInvalid, "template schema is invalid", policyName)
			return &r
		}
		if err := schema.Validate(anyfy(payload)); err != nil {
			r := reject.New(reject.CodeDocumentTemplateInvalid, "payload does not match the document schema", policyName)
			return &r
		}
	}
	return nil
}

func (v *Validator) compiled(tpl Template) (*jsonschema.Schema, error) {
	key := fmt.Sprintf("%s@%d", tpl.TemplateID, tpl.Version)

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://bos.schemas.local/documents/%s.schema.json", key)
	if err := c.AddResource(url, strings.NewReader(tpl.SchemaJSON)); err != nil {
		return nil, fmt.Errorf("document: schema load failed: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("document: schema compile failed: %w", err)
	}
	v.cache[key] = schema
	return schema, nil
}

// anyfy normalises the payload for schema validation; jsonschema expects
// plain decoded JSON values.
func anyfy(payload map[string]any) any {
	out := make(map[string]any, len(payload))
	for k, val := range payload {
		out[k] = val
	}
	return out
}
