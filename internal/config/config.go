package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Abaso007/builderai-sub001/internal/logger"
)

type Configuration struct {
	Deployment  DeploymentConfig  `validate:"required"`
	Logging     LoggingConfig     `validate:"required"`
	Postgres    PostgresConfig    `validate:"required"`
	ClickHouse  ClickHouseConfig  `validate:"required"`
	Redis       RedisConfig       `validate:"required"`
	Entitlement EntitlementConfig `validate:"required"`
	Billing     BillingConfig     `validate:"required"`
}

type RunMode string

const (
	ModeLocal RunMode = "local"
	ModeProd  RunMode = "prod"
)

type DeploymentConfig struct {
	Mode RunMode `validate:"required"`
}

type LoggingConfig struct {
	Level logger.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Address  string
	TLS      bool
	Username string
	Password string
	Database string
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// EntitlementConfig carries the runtime tunables of the entitlement engine
type EntitlementConfig struct {
	RevalidateInterval  time.Duration
	SyncInterval        time.Duration
	BufferFlushInterval time.Duration
}

// BillingConfig carries the runtime tunables of the billing engine
type BillingConfig struct {
	LockTTL             time.Duration
	StaleTakeover       time.Duration
	ProviderConcurrency int
	NetTermDays         int
	GraceDays           int
	MaxPaymentAttempts  int
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("BUILDERAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(ModeLocal))
	v.SetDefault("logging.level", string(logger.LogLevelInfo))
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 10)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("entitlement.revalidateinterval", 5*time.Minute)
	v.SetDefault("entitlement.syncinterval", time.Minute)
	v.SetDefault("entitlement.bufferflushinterval", time.Minute)
	v.SetDefault("billing.lockttl", 30*time.Second)
	v.SetDefault("billing.staletakeover", 2*time.Minute)
	v.SetDefault("billing.providerconcurrency", 10)
	v.SetDefault("billing.nettermdays", 14)
	v.SetDefault("billing.gracedays", 7)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: ModeLocal},
		Logging:    LoggingConfig{Level: logger.LogLevelInfo},
		Entitlement: EntitlementConfig{
			RevalidateInterval:  5 * time.Minute,
			SyncInterval:        time.Minute,
			BufferFlushInterval: time.Minute,
		},
		Billing: BillingConfig{
			LockTTL:             30 * time.Second,
			StaleTakeover:       2 * time.Minute,
			ProviderConcurrency: 10,
			NetTermDays:         14,
			GraceDays:           7,
			MaxPaymentAttempts:  10,
		},
	}
}
