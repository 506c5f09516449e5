package routing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leolimacr/advisor-core/internal/cache"
	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/types"
)

// fakeProvider answers from reply unless the model is listed in failing or
// fail is set.
type fakeProvider struct {
	name    string
	family  providers.Family
	reply   string
	delay   time.Duration
	fail    atomic.Bool
	failing map[string]bool

	mu     sync.Mutex
	models []string
	calls  atomic.Int32
}

func newFakeProvider(name, reply string) *fakeProvider {
	return &fakeProvider{name: name, family: providers.FamilyChat, reply: reply, failing: map[string]bool{}}
}

func (f *fakeProvider) GetProviderName() string   { return f.name }
func (f *fakeProvider) Family() providers.Family { return f.family }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.models = append(f.models, req.Model)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail.Load() || f.failing[req.Model] {
		return nil, errors.New("upstream unavailable")
	}
	return &types.Completion{Text: f.reply, TokensUsed: 10}, nil
}

func (f *fakeProvider) calledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func createTestRouter(t *testing.T, c cache.ResponseCache, cfg Config) *Router {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	router := NewRouter(cfg, c, logger)
	t.Cleanup(router.Close)
	return router
}

func userConv(text string) []types.ConversationTurn {
	return []types.ConversationTurn{{Role: types.RoleUser, Text: text}}
}

func TestRouter_RegisterProvider(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: newFakeProvider("gemini", "x"), Models: []string{"g1"}, Priority: 2}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: newFakeProvider("groq", "x"), Models: []string{"l1"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: newFakeProvider("openai", "x"), Models: []string{"o1"}, Priority: 2}))

	assert.Equal(t, []string{"groq", "gemini", "openai"}, router.ListProviders())

	err := router.RegisterProvider(ProviderEntry{Adapter: newFakeProvider("groq", "x"), Models: []string{"l2"}})
	assert.Error(t, err, "duplicate names rejected")

	err = router.RegisterProvider(ProviderEntry{Adapter: newFakeProvider("empty", "x")})
	assert.ErrorIs(t, err, ErrNoProviders)

	statuses := router.ProviderStatuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, types.ProviderAvailable, statuses[0].State)
	assert.Equal(t, "chat", statuses[0].Family)
}

func TestRouter_Invoke_RejectsMalformedConversation(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	tests := []struct {
		name string
		conv []types.ConversationTurn
	}{
		{"empty", nil},
		{"ends with assistant", []types.ConversationTurn{{Role: types.RoleAssistant, Text: "oi"}}},
		{"blank user turn", []types.ConversationTurn{{Role: types.RoleUser, Text: "  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.Invoke(context.Background(), tt.conv, "", types.InvokeOptions{})
			assert.ErrorIs(t, err, types.ErrEmptyConversation)
		})
	}
}

func TestRouter_Invoke_ModelFallbackBeforeNextProvider(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	primary := newFakeProvider("groq", "resposta da groq")
	primary.failing["llama-70b"] = true
	secondary := newFakeProvider("gemini", "resposta do gemini")

	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: primary, Models: []string{"llama-70b", "llama-8b"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: secondary, Models: []string{"flash"}, Priority: 2}))

	resp, err := router.Invoke(context.Background(), userConv("Quanto gastei?"), "sistema", types.InvokeOptions{})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "groq", resp.Provider)
	assert.Equal(t, "llama-8b", resp.Model)
	assert.Equal(t, "resposta da groq", resp.Text)
	assert.Equal(t, []string{"llama-70b", "llama-8b"}, primary.calledModels())
	assert.Equal(t, int32(0), secondary.calls.Load())
	require.Len(t, resp.Attempts, 2)
	assert.NotEmpty(t, resp.Attempts[0].Error)
}

func TestRouter_Invoke_NextProviderAfterAllModelsFail(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	primary := newFakeProvider("groq", "x")
	primary.fail.Store(true)
	secondary := newFakeProvider("gemini", "resposta do gemini")

	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: primary, Models: []string{"a", "b"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: secondary, Models: []string{"flash"}, Priority: 2}))

	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, []string{"a", "b"}, primary.calledModels())
	assert.Len(t, resp.Attempts, 3)
}

func TestRouter_Invoke_ContingencyWhenExhausted(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	for _, name := range []string{"groq", "gemini"} {
		p := newFakeProvider(name, "x")
		p.fail.Store(true)
		require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: p, Models: []string{"m1", "m2"}}))
	}

	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{UserName: "Maria"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.Contingency)
	assert.Equal(t, ContingencyProvider, resp.Provider)
	assert.Contains(t, resp.Text, "Maria")
	assert.Len(t, resp.Attempts, 4)

	resp, err = router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "você")
}

func TestRouter_Invoke_NoProvidersIsContingency(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{UserName: "Ana"})
	require.NoError(t, err)
	assert.True(t, resp.Contingency)
	assert.Contains(t, resp.Text, "Ana")
}

func TestRouter_Invoke_EmptyCompletionIsFailure(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	blank := newFakeProvider("groq", "   ")
	backup := newFakeProvider("gemini", "ok")
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: blank, Models: []string{"m"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: backup, Models: []string{"m"}, Priority: 2}))

	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)

	status, ok := router.Health().Status("groq")
	require.True(t, ok)
	assert.Equal(t, 1, status.ConsecutiveErrors)
}

func TestRouter_Invoke_TimeoutTriggersFallback(t *testing.T) {
	router := createTestRouter(t, nil, Config{CallTimeout: 50 * time.Millisecond})

	slow := newFakeProvider("groq", "tarde demais")
	slow.delay = time.Second
	fast := newFakeProvider("gemini", "rápido")
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: slow, Models: []string{"m"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: fast, Models: []string{"m"}, Priority: 2}))

	start := time.Now()
	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "gemini", resp.Provider)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRouter_Invoke_CallerCancellationKeepsProviderHealthy(t *testing.T) {
	router := createTestRouter(t, nil, Config{CallTimeout: time.Second, FailureThreshold: 5, Cooldown: time.Minute})

	slow := newFakeProvider("groq", "tarde demais")
	slow.delay = 200 * time.Millisecond
	backup := newFakeProvider("gemini", "reserva")
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: slow, Models: []string{"m"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: backup, Models: []string{"m"}, Priority: 2}))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		resp, err := router.Invoke(ctx, userConv("Oi"), "", types.InvokeOptions{UserName: "Ana"})
		cancel()
		require.NoError(t, err)
		assert.True(t, resp.Contingency)
	}

	assert.True(t, router.Health().Available("groq"))
	status, ok := router.Health().Status("groq")
	require.True(t, ok)
	assert.Equal(t, types.ProviderAvailable, status.State)
	assert.Equal(t, 0, status.ConsecutiveErrors)
	assert.Zero(t, backup.calls.Load(), "a cancelled request does not fail over")
}

func TestRouter_Invoke_TokenBudget(t *testing.T) {
	router := createTestRouter(t, nil, Config{})

	var seen atomic.Int64
	p := &budgetProvider{seen: &seen}
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: p, Models: []string{"m"}, MaxTokens: 512}))

	_, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(512), seen.Load())

	override := 64
	_, err = router.Invoke(context.Background(), userConv("Oi de novo"), "", types.InvokeOptions{MaxTokens: &override})
	require.NoError(t, err)
	assert.Equal(t, int64(64), seen.Load())
}

type budgetProvider struct {
	seen *atomic.Int64
}

func (b *budgetProvider) GetProviderName() string   { return "budget" }
func (b *budgetProvider) Family() providers.Family { return providers.FamilyDocument }
func (b *budgetProvider) ChatCompletion(_ context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	if req.MaxTokens != nil {
		b.seen.Store(int64(*req.MaxTokens))
	}
	return &types.Completion{Text: "ok"}, nil
}

func TestRouter_Invoke_Cache(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	memory := cache.NewMemoryCache(100*time.Millisecond, 10, logger)
	router := createTestRouter(t, memory, Config{})

	p := newFakeProvider("groq", "resposta")
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: p, Models: []string{"m"}}))

	conv := []types.ConversationTurn{
		{Role: types.RoleUser, Text: "oi"},
		{Role: types.RoleAssistant, Text: "olá!"},
		{Role: types.RoleUser, Text: "o que é CDI?"},
	}
	opts := types.InvokeOptions{CacheScope: "user-1"}

	first, err := router.Invoke(context.Background(), conv, "s", opts)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := router.Invoke(context.Background(), conv, "s", opts)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "resposta", second.Text)
	assert.Equal(t, int32(1), p.calls.Load())

	// Another user never shares the entry
	other, err := router.Invoke(context.Background(), conv, "s", types.InvokeOptions{CacheScope: "user-2"})
	require.NoError(t, err)
	assert.False(t, other.Cached)
	assert.Equal(t, int32(2), p.calls.Load())

	time.Sleep(150 * time.Millisecond)
	third, err := router.Invoke(context.Background(), conv, "s", opts)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestRouter_Invoke_ContingencyNotCached(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	memory := cache.NewMemoryCache(time.Minute, 10, logger)
	router := createTestRouter(t, memory, Config{})

	p := newFakeProvider("groq", "resposta")
	p.fail.Store(true)
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: p, Models: []string{"m"}}))

	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Contingency)

	p.fail.Store(false)
	resp, err = router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, "resposta", resp.Text)
}

func TestRouter_CircuitBreaker(t *testing.T) {
	router := createTestRouter(t, nil, Config{FailureThreshold: 5, Cooldown: 150 * time.Millisecond})

	flaky := newFakeProvider("groq", "groq voltou")
	flaky.fail.Store(true)
	backup := newFakeProvider("gemini", "gemini")
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: flaky, Models: []string{"m"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: backup, Models: []string{"m"}, Priority: 2}))

	for i := 0; i < 5; i++ {
		resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
		require.NoError(t, err)
		assert.Equal(t, "gemini", resp.Provider)
	}
	assert.False(t, router.Health().Available("groq"))

	// Suspended provider is skipped
	_, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(5), flaky.calls.Load())

	status, _ := router.Health().Status("groq")
	assert.Equal(t, types.ProviderSuspended, status.State)
	assert.NotNil(t, status.SuspendedUntil)

	require.Eventually(t, func() bool {
		return router.Health().Available("groq")
	}, 2*time.Second, 10*time.Millisecond)

	status, _ = router.Health().Status("groq")
	assert.Equal(t, 0, status.ConsecutiveErrors)

	flaky.fail.Store(false)
	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "groq", resp.Provider)

	status, _ = router.Health().Status("groq")
	assert.Equal(t, 0, status.ConsecutiveErrors)
	assert.NotNil(t, status.LastSuccess)
}

func TestRouter_CircuitOpensMidModelLoop(t *testing.T) {
	router := createTestRouter(t, nil, Config{FailureThreshold: 2, Cooldown: time.Minute})

	p := newFakeProvider("groq", "x")
	p.fail.Store(true)
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: p, Models: []string{"a", "b", "c"}}))

	resp, err := router.Invoke(context.Background(), userConv("Oi"), "", types.InvokeOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Contingency)
	assert.Equal(t, []string{"a", "b"}, p.calledModels())
}

func TestRouter_ConcurrentInvoke(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	memory := cache.NewMemoryCache(time.Minute, 4, logger)
	router := createTestRouter(t, memory, Config{FailureThreshold: 3, Cooldown: 20 * time.Millisecond})

	flaky := newFakeProvider("groq", "groq")
	flaky.fail.Store(true)
	stable := newFakeProvider("gemini", "gemini")
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: flaky, Models: []string{"m"}, Priority: 1}))
	require.NoError(t, router.RegisterProvider(ProviderEntry{Adapter: stable, Models: []string{"m"}, Priority: 2}))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				text := "pergunta " + string(rune('a'+(i+j)%10))
				resp, err := router.Invoke(context.Background(), userConv(text), "", types.InvokeOptions{})
				assert.NoError(t, err)
				assert.NotEmpty(t, resp.Text)
				_ = router.ProviderStatuses()
			}
		}(i)
	}
	wg.Wait()
}
