package types

// Metadata is a map of string key-value pairs attached to domain entities
// for forensic notes and provider bookkeeping
type Metadata map[string]string

// Merge returns a new Metadata with the values of other overriding m
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Metadata keys used by the billing engine
const (
	MetadataKeyNote               = "note"
	MetadataKeyReason             = "reason"
	MetadataKeySubscriptionItemID = "subscription_item_id"
	MetadataKeyKind               = "kind"
	MetadataKeyStatementKey       = "statement_key"

	MetadataKindCreditApplied = "credit_applied"
	MetadataReasonInvoiceFail = "invoice_failed"
)
