package customer

import (
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Customer is the read-only customer surface used for provider payloads
type Customer struct {
	ID                     string         `db:"id" json:"id"`
	Name                   string         `db:"name" json:"name"`
	Email                  string         `db:"email" json:"email"`
	DefaultPaymentMethodID string         `db:"default_payment_method_id" json:"default_payment_method_id"`
	ProviderCustomerIDs    types.Metadata `db:"provider_customer_ids" json:"provider_customer_ids"`
	types.BaseModel
}

// ProviderCustomerID returns the customer's id at the given provider
func (c *Customer) ProviderCustomerID(provider string) string {
	if c.ProviderCustomerIDs == nil {
		return ""
	}
	return c.ProviderCustomerIDs[provider]
}
