package document

import "sort"

// RenderField is one line of a render plan.
type RenderField struct {
	Name     string `json:"name"`
	Value    any    `json:"value,omitempty"`
	Required bool   `json:"required"`
	Present  bool   `json:"present"`
}

// RenderPlan is the ordered field layout a renderer consumes. Complete
// reports whether every required field is present in the payload.
type RenderPlan struct {
	TemplateID string        `json:"template_id"`
	DocType    DocType       `json:"doc_type"`
	Version    int           `json:"version"`
	Fields     []RenderField `json:"fields"`
	Complete   bool          `json:"complete"`
}

// BuildRenderPlan lays the payload out against the template: required
// fields first in template order, then the remaining payload fields sorted
// by name.
func BuildRenderPlan(t Template, payload map[string]any) RenderPlan {
	plan := RenderPlan{
		TemplateID: t.TemplateID,
		DocType:    t.DocType,
		Version:    t.Version,
		Complete:   true,
	}

	required := make(map[string]struct{}, len(t.RequiredFields))
	for _, name := range t.RequiredFields {
		required[name] = struct{}{}
		v, present := payload[name]
		if !present {
			plan.Complete = false
		}
		plan.Fields = append(plan.Fields, RenderField{
			Name:     name,
			Value:    v,
			Required: true,
			Present:  present,
		})
	}

	extras := make([]string, 0, len(payload))
	for name := range payload {
		if _, isRequired := required[name]; !isRequired {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		plan.Fields = append(plan.Fields, RenderField{
			Name:    name,
			Value:   payload[name],
			Present: true,
		})
	}
	return plan
}
