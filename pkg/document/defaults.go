package document

// Built-in fallback templates per doc type. Used when a tenant has not
// configured any template of that type.

var defaultTemplates = map[DocType]Template{
	DocReceipt: {
		TemplateID:     "default-receipt",
		DocType:        DocReceipt,
		Version:        1,
		Status:         StatusActive,
		RequiredFields: []string{"amount", "method", "session_id"},
	},
	DocQuote: {
		TemplateID:     "default-quote",
		DocType:        DocQuote,
		Version:        1,
		Status:         StatusActive,
		RequiredFields: []string{"customer_id", "line_items", "valid_until"},
	},
	DocInvoice: {
		TemplateID:     "default-invoice",
		DocType:        DocInvoice,
		Version:        1,
		Status:         StatusActive,
		RequiredFields: []string{"customer_id", "line_items", "due_date", "total"},
	},
}

// DefaultTemplate returns the built-in template for a doc type.
func DefaultTemplate(docType DocType) (Template, bool) {
	t, ok := defaultTemplates[docType]
	return t, ok
}
