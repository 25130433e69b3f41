package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

const ProviderStripe = "stripe"

// StripeProvider implements PaymentProvider over the Stripe invoices API
type StripeProvider struct {
	client *stripe.Client
	logger *logger.Logger
}

func NewStripeProvider(secretKey string, logger *logger.Logger) *StripeProvider {
	return &StripeProvider{
		client: stripe.NewClient(secretKey, nil),
		logger: logger,
	}
}

func (p *StripeProvider) Name() string {
	return ProviderStripe
}

func (p *StripeProvider) CreateInvoice(ctx context.Context, payload *InvoicePayload) (*ProviderInvoice, error) {
	params := &stripe.InvoiceCreateParams{
		Customer:    stripe.String(payload.ProviderCustomerID),
		Currency:    stripe.String(strings.ToLower(payload.Currency)),
		AutoAdvance: stripe.Bool(false),
		Description: stripe.String(payload.Description),
		Metadata:    payload.Metadata,
	}

	switch payload.CollectionMethod {
	case types.CollectionMethodSendInvoice:
		params.CollectionMethod = stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice))
		if payload.DueDate != nil {
			params.DueDate = stripe.Int64(payload.DueDate.Unix())
		}
	default:
		params.CollectionMethod = stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically))
	}

	for _, field := range payload.CustomFields {
		params.CustomFields = append(params.CustomFields, &stripe.InvoiceCreateCustomFieldParams{
			Name:  stripe.String(field.Name),
			Value: stripe.String(field.Value),
		})
	}

	stripeInvoice, err := p.client.V1Invoices.Create(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, "Failed to create provider invoice")
	}

	p.logger.Infow("created draft invoice at stripe",
		"provider_invoice_id", stripeInvoice.ID)
	return fromStripeInvoice(stripeInvoice), nil
}

func (p *StripeProvider) UpdateInvoice(ctx context.Context, providerInvoiceID string, payload *InvoicePayload) (*ProviderInvoice, error) {
	params := &stripe.InvoiceUpdateParams{
		Description: stripe.String(payload.Description),
		Metadata:    payload.Metadata,
	}
	for _, field := range payload.CustomFields {
		params.CustomFields = append(params.CustomFields, &stripe.InvoiceUpdateCustomFieldParams{
			Name:  stripe.String(field.Name),
			Value: stripe.String(field.Value),
		})
	}

	stripeInvoice, err := p.client.V1Invoices.Update(ctx, providerInvoiceID, params)
	if err != nil {
		return nil, p.wrapError(err, "Failed to update provider invoice")
	}
	return fromStripeInvoice(stripeInvoice), nil
}

func (p *StripeProvider) GetInvoice(ctx context.Context, providerInvoiceID string) (*ProviderInvoice, error) {
	params := &stripe.InvoiceRetrieveParams{}
	params.AddExpand("lines")

	stripeInvoice, err := p.client.V1Invoices.Retrieve(ctx, providerInvoiceID, params)
	if err != nil {
		return nil, p.wrapError(err, "Failed to retrieve provider invoice")
	}
	return fromStripeInvoice(stripeInvoice), nil
}

func (p *StripeProvider) AddInvoiceItem(ctx context.Context, providerInvoiceID string, item *LineItemPayload) (string, error) {
	params := &stripe.InvoiceItemCreateParams{
		Customer:    stripe.String(item.ProviderCustomerID),
		Invoice:     stripe.String(providerInvoiceID),
		Currency:    stripe.String(strings.ToLower(item.Currency)),
		Description: stripe.String(item.Description),
		Amount:      stripe.Int64(item.AmountCents.IntPart()),
		Metadata:    item.Metadata,
	}
	if !item.PeriodStart.IsZero() && !item.PeriodEnd.IsZero() {
		params.Period = &stripe.InvoiceItemCreatePeriodParams{
			Start: stripe.Int64(item.PeriodStart.Unix()),
			End:   stripe.Int64(item.PeriodEnd.Unix()),
		}
	}

	invoiceItem, err := p.client.V1InvoiceItems.Create(ctx, params)
	if err != nil {
		return "", p.wrapError(err, "Failed to add provider invoice item")
	}
	return invoiceItem.ID, nil
}

func (p *StripeProvider) UpdateInvoiceItem(ctx context.Context, providerItemID string, item *LineItemPayload) error {
	params := &stripe.InvoiceItemUpdateParams{
		Description: stripe.String(item.Description),
		Amount:      stripe.Int64(item.AmountCents.IntPart()),
		Metadata:    item.Metadata,
	}
	if !item.PeriodStart.IsZero() && !item.PeriodEnd.IsZero() {
		params.Period = &stripe.InvoiceItemUpdatePeriodParams{
			Start: stripe.Int64(item.PeriodStart.Unix()),
			End:   stripe.Int64(item.PeriodEnd.Unix()),
		}
	}

	if _, err := p.client.V1InvoiceItems.Update(ctx, providerItemID, params); err != nil {
		return p.wrapError(err, "Failed to update provider invoice item")
	}
	return nil
}

func (p *StripeProvider) FinalizeInvoice(ctx context.Context, providerInvoiceID string) (*ProviderInvoice, error) {
	params := &stripe.InvoiceFinalizeInvoiceParams{
		AutoAdvance: stripe.Bool(false),
	}

	stripeInvoice, err := p.client.V1Invoices.FinalizeInvoice(ctx, providerInvoiceID, params)
	if err != nil {
		return nil, p.wrapError(err, "Failed to finalize provider invoice")
	}

	p.logger.Infow("finalized invoice at stripe",
		"provider_invoice_id", providerInvoiceID,
		"status", stripeInvoice.Status,
		"total", stripeInvoice.Total)
	return fromStripeInvoice(stripeInvoice), nil
}

func (p *StripeProvider) SendInvoice(ctx context.Context, providerInvoiceID string) error {
	if _, err := p.client.V1Invoices.SendInvoice(ctx, providerInvoiceID, &stripe.InvoiceSendInvoiceParams{}); err != nil {
		return p.wrapError(err, "Failed to send provider invoice")
	}
	return nil
}

func (p *StripeProvider) CollectPayment(ctx context.Context, providerInvoiceID, paymentMethodID string) (*PaymentResult, error) {
	params := &stripe.InvoicePayParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}

	paidInvoice, err := p.client.V1Invoices.Pay(ctx, providerInvoiceID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return &PaymentResult{
				Status:    PaymentStatusFailed,
				ErrorCode: string(stripeErr.Code),
			}, p.wrapError(err, "Payment collection failed")
		}
		return nil, p.wrapError(err, "Payment collection failed")
	}

	result := &PaymentResult{
		Status:     PaymentStatusPending,
		InvoiceURL: paidInvoice.HostedInvoiceURL,
	}
	if paidInvoice.Status == stripe.InvoiceStatusPaid {
		result.Status = PaymentStatusPaid
	}
	return result, nil
}

func (p *StripeProvider) wrapError(err error, hint string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return ierr.WithError(err).
			WithHint(hint).
			WithReportableDetails(map[string]any{
				"provider":   ProviderStripe,
				"error_code": stripeErr.Code,
			}).
			Mark(ierr.ErrProviderFailed)
	}
	return ierr.WithError(err).
		WithHint(hint).
		Mark(ierr.ErrProviderFailed)
}

func fromStripeInvoice(inv *stripe.Invoice) *ProviderInvoice {
	out := &ProviderInvoice{
		ID:         inv.ID,
		URL:        inv.HostedInvoiceURL,
		Status:     ProviderInvoiceStatus(inv.Status),
		TotalCents: decimal.NewFromInt(inv.Total),
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			out.Items = append(out.Items, ProviderLineItem{
				ID:          line.ID,
				AmountCents: decimal.NewFromInt(line.Amount),
				Description: line.Description,
				Metadata:    line.Metadata,
			})
		}
	}
	return out
}
