package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/storefront-notify/internal/backoff"
)

func TestPolicy_DocumentedSchedule(t *testing.T) {
	p := backoff.Policy{Base: 3000 * time.Millisecond, MaxRetries: 5}

	want := []time.Duration{
		3000 * time.Millisecond,
		6000 * time.Millisecond,
		12000 * time.Millisecond,
		24000 * time.Millisecond,
		48000 * time.Millisecond,
	}

	for i, w := range want {
		d, ok := p.Next(i)
		assert.True(t, ok, "retry %d should be allowed", i+1)
		assert.Equal(t, w, d, "retry %d", i+1)
	}

	_, ok := p.Next(5)
	assert.False(t, ok, "sixth retry must be refused")
}

func TestPolicy_MaxDelayClamp(t *testing.T) {
	p := backoff.Policy{Base: time.Second, MaxRetries: 100, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(90))
}

func TestPolicy_HugeRetryDoesNotOverflow(t *testing.T) {
	p := backoff.Policy{Base: time.Second, MaxRetries: 1000}
	assert.Greater(t, p.Delay(200), time.Duration(0))
}

func TestPolicy_ZeroCeilingNeverRetries(t *testing.T) {
	p := backoff.Policy{Base: time.Second}
	_, ok := p.Next(0)
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want backoff.Closure
	}{
		{backoff.CodeNormal, backoff.Closure{Kind: backoff.Terminal}},
		{backoff.CodeAbnormal, backoff.Closure{Kind: backoff.Retryable, Signal: backoff.SignalBackendUnavailable}},
		{backoff.CodeUnauthorized, backoff.Closure{Kind: backoff.Terminal, Signal: backoff.SignalAuthRequired}},
		{backoff.CodeForbidden, backoff.Closure{Kind: backoff.Terminal, Signal: backoff.SignalAuthRequired}},
		{backoff.CodeRateLimited, backoff.Closure{Kind: backoff.Terminal, Signal: backoff.SignalBackendUnavailable}},
		{1001, backoff.Closure{Kind: backoff.Retryable}},
		{1011, backoff.Closure{Kind: backoff.Retryable}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff.Classify(tt.code), "code %d", tt.code)
	}
}
