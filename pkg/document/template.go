// Package document resolves the active document template for a tenant
// scope deterministically and validates command payloads against the
// template's layout schema.
package document

import (
	"sort"
	"sync"
	"time"
)

// DocType names a document family.
type DocType string

const (
	DocReceipt DocType = "RECEIPT"
	DocQuote   DocType = "QUOTE"
	DocInvoice DocType = "INVOICE"
)

// TemplateStatus is a template's lifecycle state.
type TemplateStatus string

const (
	StatusActive   TemplateStatus = "ACTIVE"
	StatusDraft    TemplateStatus = "DRAFT"
	StatusArchived TemplateStatus = "ARCHIVED"
)

// Template is one provider entry. BranchID empty means business-wide. The
// layout lists the payload fields a document of this type must provide;
// SchemaJSON optionally carries a full JSON Schema for the payload.
type Template struct {
	TemplateID string         `json:"template_id"`
	TenantID   string         `json:"tenant_id"`
	BranchID   string         `json:"branch_id,omitempty"`
	DocType    DocType        `json:"doc_type"`
	Version    int            `json:"version"`
	Status     TemplateStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`

	RequiredFields []string `json:"required_fields"`
	SchemaJSON     string   `json:"schema_json,omitempty"`
}

// Provider is the read contract the guard consumes.
type Provider interface {
	TemplatesForTenant(tenantID string) ([]Template, error)
}

// MemoryProvider is the in-memory Provider double.
type MemoryProvider struct {
	mu        sync.RWMutex
	templates map[string][]Template
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{templates: make(map[string][]Template)}
}

func (p *MemoryProvider) Put(t Template) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[t.TenantID] = append(p.templates[t.TenantID], t)
}

func (p *MemoryProvider) TemplatesForTenant(tenantID string) ([]Template, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Template, len(p.templates[tenantID]))
	copy(out, p.templates[tenantID])
	return out, nil
}

// scopeKey canonicalises duplicate provider rows.
type scopeKey struct {
	tenant  string
	branch  string
	docType DocType
	version int
}

// Canonicalise collapses duplicate (tenant, branch, doc_type, version)
// rows with the precedence ACTIVE > newer created_at > template_id.
func Canonicalise(templates []Template) []Template {
	table := make(map[scopeKey]Template)
	for _, t := range templates {
		k := scopeKey{t.TenantID, t.BranchID, t.DocType, t.Version}
		cur, exists := table[k]
		if !exists || beats(t, cur) {
			table[k] = t
		}
	}

	out := make([]Template, 0, len(table))
	for _, t := range table {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out
}

func beats(candidate, incumbent Template) bool {
	ca, ia := candidate.Status == StatusActive, incumbent.Status == StatusActive
	if ca != ia {
		return ca
	}
	if !candidate.CreatedAt.Equal(incumbent.CreatedAt) {
		return candidate.CreatedAt.After(incumbent.CreatedAt)
	}
	return candidate.TemplateID < incumbent.TemplateID
}

// Resolve picks the active template for (tenant, branch, docType).
// Branch-scoped templates are preferred over business-wide ones; among the
// surviving candidates the highest ACTIVE version wins. When nothing
// matches, the built-in default for the doc type is returned.
func Resolve(templates []Template, tenantID, branchID string, docType DocType) (Template, bool) {
	canonical := Canonicalise(templates)

	pick := func(branch string) (Template, bool) {
		var best Template
		found := false
		for _, t := range canonical {
			if t.TenantID != tenantID || t.DocType != docType || t.BranchID != branch {
				continue
			}
			if t.Status != StatusActive {
				continue
			}
			if !found || t.Version > best.Version {
				best, found = t, true
			}
		}
		return best, found
	}

	if branchID != "" {
		if t, ok := pick(branchID); ok {
			return t, true
		}
	}
	if t, ok := pick(""); ok {
		return t, true
	}
	return DefaultTemplate(docType)
}
