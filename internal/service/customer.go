package service

import (
	"context"

	"github.com/Abaso007/builderai-sub001/internal/domain/customer"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/provider"
)

// CustomerService resolves customers and their payment providers
type CustomerService interface {
	GetCustomer(ctx context.Context, projectID, customerID string) (*customer.Customer, error)

	// GetPaymentProvider resolves the configured provider by name
	GetPaymentProvider(ctx context.Context, projectID, providerName string) (provider.PaymentProvider, error)
}

type customerService struct {
	ServiceParams
}

func NewCustomerService(params ServiceParams) CustomerService {
	return &customerService{ServiceParams: params}
}

func (s *customerService) GetCustomer(ctx context.Context, projectID, customerID string) (*customer.Customer, error) {
	return s.CustomerRepo.Get(ctx, projectID, customerID)
}

func (s *customerService) GetPaymentProvider(ctx context.Context, projectID, providerName string) (provider.PaymentProvider, error) {
	p, ok := s.Providers[providerName]
	if !ok {
		return nil, ierr.NewErrorf("payment provider %s is not configured", providerName).
			WithHint("Configure the provider before billing against it").
			WithReportableDetails(map[string]any{
				"project_id": projectID,
				"provider":   providerName,
			}).
			Mark(ierr.ErrProviderFailed)
	}
	return p, nil
}
