package resilience

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientErr() error {
	return NewTransientError(eris.New("upstream down"), http.StatusBadGateway)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(transientErr())
	}
	assert.Equal(t, CircuitClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(transientErr())
	assert.Equal(t, CircuitOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.True(t, IsTransient(err))
}

func TestBreaker_NonTransientErrorsReset(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	b.Record(transientErr())
	// A definitive upstream answer means the service is healthy.
	b.Record(eris.New("cep not found"))
	b.Record(transientErr())

	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, 30*time.Second)
	b.nowFunc = func() time.Time { return now }

	b.Record(transientErr())
	require.Error(t, b.Allow())

	// Before the reset timeout the breaker stays open.
	now = now.Add(29 * time.Second)
	require.Error(t, b.Allow())

	// After the timeout one probe is allowed.
	now = now.Add(2 * time.Second)
	require.NoError(t, b.Allow())

	// A failed probe reopens immediately.
	b.Record(transientErr())
	require.Error(t, b.Allow())

	// A successful probe closes the breaker.
	now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient wrapper", err: transientErr(), want: true},
		{name: "wrapped transient", err: eris.Wrap(transientErr(), "geocode: viacep"), want: true},
		{name: "plain error", err: eris.New("bad input"), want: false},
		{name: "connection reset text", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "no such host text", err: errors.New("dial tcp: lookup viacep.com.br: no such host"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	assert.True(t, IsTransientHTTPStatus(http.StatusTooManyRequests))
	assert.True(t, IsTransientHTTPStatus(http.StatusServiceUnavailable))
	assert.False(t, IsTransientHTTPStatus(http.StatusBadRequest))
	assert.False(t, IsTransientHTTPStatus(http.StatusNotFound))
	assert.False(t, IsTransientHTTPStatus(http.StatusOK))
}
