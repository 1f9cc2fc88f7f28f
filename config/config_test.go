package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("CHAPA_SECRET_KEY", "CHASECK_TEST-abc")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "chapa", cfg.PaymentProvider)
	assert.Equal(t, "https://api.chapa.co/v1", cfg.Chapa.BaseURL)
	assert.Equal(t, 3, cfg.FreePosts)
	assert.Equal(t, 5, cfg.DefaultPurchasePost)
	assert.Equal(t, 15*time.Second, cfg.PaymentHTTPTimeout)
	assert.Equal(t, 24*time.Hour, cfg.PaymentPendingTTL)
	assert.Equal(t, "successful_payments", cfg.Kafka.Topic)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CHAPA_BASE_URL", "http://chapa.local/v1/")
	t.Setenv("PAYMENT_HTTP_TIMEOUT", "3s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "\"k1:9092, k2:9092\"")
	t.Setenv("FREE_POSTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://chapa.local/v1", cfg.Chapa.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.PaymentHTTPTimeout)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.FreePosts)
}

func TestLoadRequiresSecrets(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"db password", "DB_PASSWORD", "DB_PASSWORD is required"},
		{"jwt secret", "JWT_SECRET", "JWT_SECRET is required"},
		{"chapa key", "CHAPA_SECRET_KEY", "CHAPA_SECRET_KEY is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadStripeProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "stripe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")

	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "stripe", cfg.PaymentProvider)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "paypal")

	_, err := Load()
	require.Error(t, err)
}

func TestMaskPassword(t *testing.T) {
	cfg := Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "hunter2", DBName: "lwie", DBSSLMode: "disable"}
	masked := maskPassword(cfg.DSN())

	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "password=***** dbname=lwie")
}
