package types

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex grant_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

const (
	// Prefixes for all domains and entities

	UUID_PREFIX_GRANT              = "grant"
	UUID_PREFIX_ENTITLEMENT        = "ent"
	UUID_PREFIX_BILLING_PERIOD     = "bp"
	UUID_PREFIX_INVOICE            = "inv"
	UUID_PREFIX_INVOICE_LINE_ITEM  = "inv_line"
	UUID_PREFIX_CREDIT_GRANT       = "cred"
	UUID_PREFIX_CREDIT_APPLICATION = "credapp"
	UUID_PREFIX_USAGE_RECORD       = "usage"
	UUID_PREFIX_VERIFICATION       = "verif"
	UUID_PREFIX_PAYMENT_ATTEMPT    = "payatt"
	UUID_PREFIX_FEATURE            = "feat"
	UUID_PREFIX_FEATURE_VERSION    = "fpv"
	UUID_PREFIX_SUBSCRIPTION       = "subs"
	UUID_PREFIX_SUBSCRIPTION_PHASE = "phase"
	UUID_PREFIX_SUBSCRIPTION_ITEM  = "subs_item"
	UUID_PREFIX_CUSTOMER           = "cust"
	UUID_PREFIX_LOCK_OWNER         = "owner"
)
