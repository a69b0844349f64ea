package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Duplicate registration scopes.
const (
	ScopeForm   = "form"
	ScopeGlobal = "global"
)

// DefaultRedemptionURL is the LinkedIn premium gift link used when a coupon carries no URL.
const DefaultRedemptionURL = "http://www.linkedin.com/premium/redeem/gift?_ed=%s&mcid=7185883047605547008"

// Config holds runtime settings for the server.
type Config struct {
	Port     string
	GinMode  string
	LogLevel string
	LogDev   bool

	MongoURI string
	MongoDB  string

	AdminToken string

	// DuplicateScope decides whether email/mobile are unique per form or across all forms.
	DuplicateScope string
	// RedemptionURLTemplate is formatted with the coupon code; empty disables generated URLs.
	RedemptionURLTemplate string
	UploadMaxBytes        int64

	// MongoTransactions wraps multi-document admin operations in a session
	// transaction. Standalone servers without a replica set must turn it off.
	MongoTransactions bool
}

// Load reads config.yaml from the working directory (optional) and lets environment
// variables override every key.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("port", "8080")
	v.SetDefault("gin_mode", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db", "coupon_registration")
	v.SetDefault("admin_token", "")
	v.SetDefault("duplicate_scope", ScopeForm)
	v.SetDefault("redemption_url_template", DefaultRedemptionURL)
	v.SetDefault("upload_max_bytes", 5<<20)
	v.SetDefault("mongo_transactions", true)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Port:                  v.GetString("port"),
		GinMode:               v.GetString("gin_mode"),
		LogLevel:              v.GetString("log_level"),
		LogDev:                v.GetBool("log_dev"),
		MongoURI:              v.GetString("mongo_uri"),
		MongoDB:               v.GetString("mongo_db"),
		AdminToken:            v.GetString("admin_token"),
		DuplicateScope:        strings.ToLower(strings.TrimSpace(v.GetString("duplicate_scope"))),
		RedemptionURLTemplate: v.GetString("redemption_url_template"),
		UploadMaxBytes:        v.GetInt64("upload_max_bytes"),
		MongoTransactions:     v.GetBool("mongo_transactions"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.DuplicateScope {
	case ScopeForm, ScopeGlobal:
	default:
		return fmt.Errorf("config: duplicate_scope must be %q or %q, got %q", ScopeForm, ScopeGlobal, c.DuplicateScope)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("config: upload_max_bytes must be positive")
	}
	if !validRedemptionTemplate(c.RedemptionURLTemplate) {
		return fmt.Errorf("config: redemption_url_template must be empty or contain exactly one %%s and no other verbs (write a literal %% as %%%%), got %q", c.RedemptionURLTemplate)
	}
	return nil
}

// validRedemptionTemplate accepts "" or a template whose only verb is a single %s
func validRedemptionTemplate(t string) bool {
	if t == "" {
		return true
	}
	rest := strings.ReplaceAll(t, "%%", "")
	return strings.Count(rest, "%") == 1 && strings.Count(rest, "%s") == 1
}

// GetEnv returns the environment variable or fallback when unset.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
