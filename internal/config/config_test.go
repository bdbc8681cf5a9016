package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "consult", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Video: VideoConfig{AccountSID: "AC123", APIKeySID: "SK123", APIKeySecret: "shhh"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "identity"
	c.Auth.JWTAudience = "consult"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RequiresVideoCredentials(t *testing.T) {
	c := validLocal()
	c.Video.APIKeySecret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing TWILIO_API_KEY_SECRET")
	}
}

func TestValidate_BillingDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Billing.TickInterval != 30*time.Second {
		t.Fatalf("tick interval default = %v", c.Billing.TickInterval)
	}
	if c.Billing.MaxDuration != time.Hour {
		t.Fatalf("max duration default = %v", c.Billing.MaxDuration)
	}
	if c.Billing.BatchSize != 50 {
		t.Fatalf("batch size default = %d", c.Billing.BatchSize)
	}
	if c.Billing.LeaseTTL != 2*time.Minute {
		t.Fatalf("lease ttl default = %v", c.Billing.LeaseTTL)
	}
}

func TestValidate_RejectsLeaseShorterThanTick(t *testing.T) {
	c := validLocal()
	c.Billing.TickInterval = time.Minute
	c.Billing.LeaseTTL = 10 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for lease shorter than tick")
	}
}
