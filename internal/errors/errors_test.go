package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeResolvesMarkedSentinels(t *testing.T) {
	err := NewError("limit hit").
		WithHint("usage is over the cap").
		Mark(ErrLimitExceeded)
	assert.Equal(t, ErrCodeLimitExceeded, Code(err))

	wrapped := WithError(err).
		WithMessage("while verifying access").
		Mark(ErrLimitExceeded)
	assert.Equal(t, ErrCodeLimitExceeded, Code(wrapped))

	provider := NewError("card declined").
		WithReportableDetails(map[string]any{"error_code": "card_declined"}).
		Mark(ErrProviderFailed)
	assert.Equal(t, ErrCodeProviderFailed, Code(provider))
}

func TestCodeOnBareSentinel(t *testing.T) {
	assert.Equal(t, ErrCodeSubscriptionBusy, Code(ErrSubscriptionBusy))
	assert.Equal(t, ErrCodeGrantCreateFailed, Code(ErrGrantCreateFailed))
}

func TestCodeFallsBackToSystemError(t *testing.T) {
	assert.Equal(t, ErrCodeSystemError, Code(NewError("unmarked").Err()))
}
