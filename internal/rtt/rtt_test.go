package rtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClampsStart(t *testing.T) {
	e := New(0.7, 2.5, 20*time.Millisecond, 500*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, e.Timeout())
}

func TestUpdateFirstSampleSetsEstimate(t *testing.T) {
	e := New(0.7, 2.5, 10*time.Millisecond, 500*time.Millisecond, 20*time.Millisecond)
	e.Update(40 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, e.Timeout()) // 40ms * 2.5
}

func TestUpdateSmoothsSubsequentSamples(t *testing.T) {
	e := New(0.5, 2.0, time.Millisecond, time.Second, 10*time.Millisecond)
	e.Update(100 * time.Millisecond)
	e.Update(200 * time.Millisecond)
	// estimated = 0.5*100 + 0.5*200 = 150ms; timeout = 150*2 = 300ms
	assert.Equal(t, 300*time.Millisecond, e.Timeout())
}

func TestBackoffRespectsMax(t *testing.T) {
	e := New(0.7, 2.5, time.Millisecond, 50*time.Millisecond, 40*time.Millisecond)
	e.Backoff(2)
	assert.Equal(t, 50*time.Millisecond, e.Timeout())
}

func TestBackoffMultiplies(t *testing.T) {
	e := New(0.7, 2.5, time.Millisecond, time.Second, 10*time.Millisecond)
	e.Backoff(2)
	assert.Equal(t, 20*time.Millisecond, e.Timeout())
}
