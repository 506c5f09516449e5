package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leolimacr/advisor-core/internal/cache"
	"github.com/leolimacr/advisor-core/internal/config"
	"github.com/leolimacr/advisor-core/internal/routing"
)

func TestRegisterProviders(t *testing.T) {
	disabled := false
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "groq", Kind: config.KindOpenAI, APIKey: "k1", Models: []string{"llama"}, Priority: 1, Timeout: time.Second},
		{Name: "gemini", Kind: config.KindGemini, APIKey: "k2", Models: []string{"flash"}, Priority: 2, Timeout: time.Second},
		{Name: "openai", Kind: config.KindOpenAI, Models: []string{"gpt"}, Priority: 3},
		{Name: "claude", Kind: config.KindAnthropic, APIKey: "k3", Priority: 4, Enabled: &disabled},
	}}

	logger, hook := logtest.NewNullLogger()
	router := routing.NewRouter(routing.Config{
		CallTimeout:      time.Second,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	}, cache.NewMemoryCache(time.Minute, 10, logger), logger)
	t.Cleanup(router.Close)

	require.NoError(t, registerProviders(router, cfg, logger))
	assert.Equal(t, []string{"groq", "gemini"}, router.ListProviders())

	registered := map[string]int{}
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Provider registered" {
			registered[entry.Data["provider"].(string)]++
		}
	}
	assert.Equal(t, map[string]int{"groq": 1, "gemini": 1}, registered, "one registration line per provider")

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "Provider registration completed", last.Message)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, 2, last.Data["count"])
}

func TestRegisterProviders_UnknownKind(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "mystery", Kind: "carrier-pigeon", APIKey: "k", Priority: 1},
	}}
	logger, _ := logtest.NewNullLogger()
	router := routing.NewRouter(routing.Config{CallTimeout: time.Second, FailureThreshold: 3, Cooldown: time.Minute},
		cache.NewMemoryCache(time.Minute, 10, logger), logger)
	t.Cleanup(router.Close)

	err := registerProviders(router, cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Empty(t, router.ListProviders())
}
