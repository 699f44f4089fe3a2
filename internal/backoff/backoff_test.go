package backoff

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Delay(t *testing.T) {
	s := Default()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{9, 30 * time.Second},
	}

	for _, tt := range tests {
		got, err := s.Delay(tt.attempt)
		require.NoError(t, err, "attempt %d", tt.attempt)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestScheduler_DelayMatchesFormula(t *testing.T) {
	s := Default()
	for attempt := 0; attempt < s.MaxAttempts; attempt++ {
		want := time.Duration(1000*(1<<attempt)) * time.Millisecond
		if want > 30*time.Second {
			want = 30 * time.Second
		}
		got, err := s.Delay(attempt)
		require.NoError(t, err)
		assert.Equal(t, want, got, "attempt %d", attempt)
	}
}

func TestScheduler_Exhausted(t *testing.T) {
	s := Default()

	_, err := s.Delay(10)
	assert.True(t, errors.Is(err, ErrExhausted))

	_, err = s.Delay(42)
	assert.ErrorIs(t, err, ErrExhausted)

	_, err = s.Delay(9)
	assert.NoError(t, err)
}

func TestScheduler_NegativeAttempt(t *testing.T) {
	got, err := Default().Delay(-3)
	require.NoError(t, err)
	assert.Equal(t, time.Second, got)
}

func TestScheduler_IsPure(t *testing.T) {
	s := Default()
	first, _ := s.Delay(3)
	second, _ := s.Delay(3)
	assert.Equal(t, first, second)
}

func TestScheduler_Custom(t *testing.T) {
	s := Scheduler{Base: 100 * time.Millisecond, Max: 250 * time.Millisecond, MaxAttempts: 3}

	d, err := s.Delay(1)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, d)

	d, err = s.Delay(2)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = s.Delay(3)
	assert.ErrorIs(t, err, ErrExhausted)
}
