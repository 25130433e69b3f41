package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Abaso007/builderai-sub001/internal/cache"
	"github.com/Abaso007/builderai-sub001/internal/config"
	"github.com/Abaso007/builderai-sub001/internal/domain/billingperiod"
	"github.com/Abaso007/builderai-sub001/internal/domain/creditgrant"
	"github.com/Abaso007/builderai-sub001/internal/domain/customer"
	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	"github.com/Abaso007/builderai-sub001/internal/domain/invoice"
	"github.com/Abaso007/builderai-sub001/internal/domain/lock"
	"github.com/Abaso007/builderai-sub001/internal/domain/subscription"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
	"github.com/Abaso007/builderai-sub001/internal/storage"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
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
}

// BaseServiceTestSuite provides common functionality for all service test
// suites: in-memory stores, hot storage over the memory state store, a
// fake analytics backend and a fake payment provider
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	db        postgres.IClient
	logger    *logger.Logger
	config    *config.Configuration
	cache     cache.Cache
	analytics *InMemoryAnalytics
	storage   storage.EntitlementStorage
	provider  *FakePaymentProvider
	now       time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	s.logger = logger.NewNopLogger()
	s.config = config.GetDefaultConfig()
	s.db = NewMockPostgresClient(s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.setupStores()
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		GrantRepo:         NewInMemoryGrantStore(),
		EntitlementRepo:   NewInMemoryEntitlementStore(),
		BillingPeriodRepo: NewInMemoryBillingPeriodStore(),
		InvoiceRepo:       NewInMemoryInvoiceStore(),
		LineItemRepo:      NewInMemoryInvoiceLineItemStore(),
		CreditGrantRepo:   NewInMemoryCreditGrantStore(),
		CreditAppRepo:     NewInMemoryCreditApplicationStore(),
		SubscriptionRepo:  NewInMemorySubscriptionStore(),
		CustomerRepo:      NewInMemoryCustomerStore(),
		FeatureRepo:       NewInMemoryFeatureStore(),
		LockRepo:          NewInMemoryLockStore(),
	}

	s.cache = cache.NewInMemoryCache()
	s.analytics = NewInMemoryAnalytics()
	s.storage = storage.NewEntitlementStorage(storage.NewMemoryStateStore(), s.analytics, s.logger)
	s.provider = NewFakePaymentProvider()
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.GrantRepo.(*InMemoryGrantStore).Clear()
	s.stores.EntitlementRepo.(*InMemoryEntitlementStore).Clear()
	s.stores.BillingPeriodRepo.(*InMemoryBillingPeriodStore).Clear()
	s.stores.InvoiceRepo.(*InMemoryInvoiceStore).Clear()
	s.stores.LineItemRepo.(*InMemoryInvoiceLineItemStore).Clear()
	s.stores.CreditGrantRepo.(*InMemoryCreditGrantStore).Clear()
	s.stores.CreditAppRepo.(*InMemoryCreditApplicationStore).Clear()
	s.stores.SubscriptionRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.CustomerRepo.(*InMemoryCustomerStore).Clear()
	s.stores.FeatureRepo.(*InMemoryFeatureStore).Clear()
	s.stores.LockRepo.(*InMemoryLockStore).Clear()
	s.analytics.Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetCache returns the test cache
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetAnalytics returns the fake analytics backend
func (s *BaseServiceTestSuite) GetAnalytics() *InMemoryAnalytics {
	return s.analytics
}

// GetStorage returns the hot entitlement storage
func (s *BaseServiceTestSuite) GetStorage() storage.EntitlementStorage {
	return s.storage
}

// GetProvider returns the fake payment provider
func (s *BaseServiceTestSuite) GetProvider() *FakePaymentProvider {
	return s.provider
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
