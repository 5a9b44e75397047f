package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosworks/bos/core/pkg/reject"
)

var created = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func tpl(id, branch string, version int, status TemplateStatus, createdAt time.Time) Template {
	return Template{
		TemplateID: id,
		TenantID:   "t1",
		BranchID:   branch,
		DocType:    DocReceipt,
		Version:    version,
		Status:     status,
		CreatedAt:  createdAt,
	}
}

func TestCanonicalisePrecedence(t *testing.T) {
	// Same scope key, duplicate rows: ACTIVE beats DRAFT.
	out := Canonicalise([]Template{
		tpl("a", "", 1, StatusDraft, created.Add(time.Hour)),
		tpl("b", "", 1, StatusActive, created),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].TemplateID)

	// Equal status: newer created_at wins.
	out = Canonicalise([]Template{
		tpl("a", "", 1, StatusActive, created),
		tpl("b", "", 1, StatusActive, created.Add(time.Hour)),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].TemplateID)

	// Full tie: lexicographically smaller template id wins.
	out = Canonicalise([]Template{
		tpl("b", "", 1, StatusActive, created),
		tpl("a", "", 1, StatusActive, created),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].TemplateID)
}

func TestResolveBranchPreferred(t *testing.T) {
	templates := []Template{
		tpl("biz-wide", "", 3, StatusActive, created),
		tpl("branch-own", "br-1", 1, StatusActive, created),
	}

	got, ok := Resolve(templates, "t1", "br-1", DocReceipt)
	require.True(t, ok)
	assert.Equal(t, "branch-own", got.TemplateID)

	got, ok = Resolve(templates, "t1", "br-2", DocReceipt)
	require.True(t, ok)
	assert.Equal(t, "biz-wide", got.TemplateID, "other branches fall back to business-wide")
}

func TestResolveHighestActiveVersion(t *testing.T) {
	templates := []Template{
		tpl("v1", "", 1, StatusActive, created),
		tpl("v2", "", 2, StatusActive, created),
		tpl("v3-draft", "", 3, StatusDraft, created),
	}
	got, ok := Resolve(templates, "t1", "", DocReceipt)
	require.True(t, ok)
	assert.Equal(t, "v2", got.TemplateID, "drafts never resolve")
}

func TestResolveFallsBackToDefault(t *testing.T) {
	got, ok := Resolve(nil, "t1", "br-1", DocReceipt)
	require.True(t, ok)
	assert.Equal(t, "default-receipt", got.TemplateID)
	assert.Contains(t, got.RequiredFields, "amount")

	_, ok = Resolve(nil, "t1", "", DocType("WAYBILL"))
	assert.False(t, ok, "no built-in for unknown doc types")
}

func TestResolveIsDeterministic(t *testing.T) {
	templates := []Template{
		tpl("a", "", 1, StatusActive, created),
		tpl("b", "", 1, StatusActive, created),
		tpl("c", "br-1", 2, StatusActive, created),
	}
	first, _ := Resolve(templates, "t1", "br-1", DocReceipt)
	for i := 0; i < 10; i++ {
		again, _ := Resolve(templates, "t1", "br-1", DocReceipt)
		assert.Equal(t, first.TemplateID, again.TemplateID)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	v := NewValidator()
	template := Template{
		TemplateID:     "r1",
		Version:        1,
		RequiredFields: []string{"amount", "method"},
	}

	assert.Nil(t, v.Validate(template, map[string]any{"amount": 100, "method": "CASH"}))

	r := v.Validate(template, map[string]any{"amount": 100})
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeDocumentTemplateInvalid, r.Code)
	assert.Contains(t, r.Message, "method")
}

func TestValidateSchema(t *testing.T) {
	v := NewValidator()
	template := Template{
		TemplateID:     "r2",
		Version:        1,
		RequiredFields: []string{"amount"},
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"amount": {"type": "integer", "minimum": 1}
			}
		}`,
	}

	assert.Nil(t, v.Validate(template, map[string]any{"amount": 100}))

	r := v.Validate(template, map[string]any{"amount": "plenty"})
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeDocumentTemplateInvalid, r.Code)
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry()
	r.Bind("cash.payment.record.request", DocReceipt)

	dt, ok := r.DocTypeFor("cash.payment.record.request")
	require.True(t, ok)
	assert.Equal(t, DocReceipt, dt)

	_, ok = r.DocTypeFor("inventory.stock.receive.request")
	assert.False(t, ok)
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	p.Put(tpl("a", "", 1, StatusActive, created))

	got, err := p.TemplatesForTenant("t1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	none, err := p.TemplatesForTenant("t2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBuildRenderPlan(t *testing.T) {
	template := tpl("a", "", 2, StatusActive, created)
	template.RequiredFields = []string{"amount", "method"}

	plan := BuildRenderPlan(template, map[string]any{
		"amount":    1500,
		"reference": "sale-9",
	})

	assert.Equal(t, "a", plan.TemplateID)
	assert.Equal(t, DocReceipt, plan.DocType)
	assert.False(t, plan.Complete)
	require.Len(t, plan.Fields, 3)

	assert.Equal(t, "amount", plan.Fields[0].Name)
	assert.True(t, plan.Fields[0].Required)
	assert.True(t, plan.Fields[0].Present)

	assert.Equal(t, "method", plan.Fields[1].Name)
	assert.True(t, plan.Fields[1].Required)
	assert.False(t, plan.Fields[1].Present)

	assert.Equal(t, "reference", plan.Fields[2].Name)
	assert.False(t, plan.Fields[2].Required)
}

func TestBuildRenderPlanComplete(t *testing.T) {
	template := tpl("a", "", 1, StatusActive, created)
	template.RequiredFields = []string{"amount"}

	plan := BuildRenderPlan(template, map[string]any{"amount": 100})
	assert.True(t, plan.Complete)
}
