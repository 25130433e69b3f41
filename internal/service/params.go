package service

import (
	"github.com/Abaso007/builderai-sub001/internal/cache"
	"github.com/Abaso007/builderai-sub001/internal/config"
	"github.com/Abaso007/builderai-sub001/internal/domain/billingperiod"
	"github.com/Abaso007/builderai-sub001/internal/domain/creditgrant"
	"github.com/Abaso007/builderai-sub001/internal/domain/customer"
	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	"github.com/Abaso007/builderai-sub001/internal/domain/invoice"
	"github.com/Abaso007/builderai-sub001/internal/domain/lock"
	"github.com/Abaso007/builderai-sub001/internal/domain/subscription"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
	"github.com/Abaso007/builderai-sub001/internal/provider"
	"github.com/Abaso007/builderai-sub001/internal/storage"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Cache  cache.Cache

	// Repositories
	GrantRepo         grant.Repository
	EntitlementRepo   entitlement.Repository
	BillingPeriodRepo billingperiod.Repository
	InvoiceRepo       invoice.Repository
	LineItemRepo      invoice.LineItemRepository
	CreditGrantRepo   creditgrant.Repository
	CreditAppRepo     creditgrant.ApplicationRepository
	SubscriptionRepo  subscription.Repository
	CustomerRepo      customer.Repository
	FeatureRepo       feature.Repository
	LockRepo          lock.Repository

	// External collaborators
	Analytics          events.Analytics
	EntitlementStorage storage.EntitlementStorage
	Providers          map[string]provider.PaymentProvider
}
