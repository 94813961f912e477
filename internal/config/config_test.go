package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprate/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, config.SessionMemory, cfg.SessionDriver)
	assert.False(t, cfg.CrossRequestCache)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_CURRENCY", "eur")
	t.Setenv("CROSS_REQUEST_CACHE", "true")
	t.Setenv("SESSION_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/shiprate")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.True(t, cfg.CrossRequestCache)
	assert.Equal(t, config.SessionPostgres, cfg.SessionDriver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"memory", config.Config{BaseCurrency: "USD", SessionDriver: "memory"}, false},
		{"postgres without url", config.Config{BaseCurrency: "USD", SessionDriver: "postgres"}, true},
		{"unknown driver", config.Config{BaseCurrency: "USD", SessionDriver: "redis"}, true},
		{"bad currency", config.Config{BaseCurrency: "DOLLAR", SessionDriver: "memory"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAttributes(t *testing.T) {
	cfg := config.Config{ServiceName: "shiprate", Version: "1.2.3", BaseCurrency: "USD"}
	attrs := cfg.Attributes()

	require.NotEmpty(t, attrs)
	assert.Equal(t, "service.name", string(attrs[0].Key))
	assert.Equal(t, "shiprate", attrs[0].Value.AsString())
}
