package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

type stubProvider struct {
	name  string
	items []domain.SearchItem
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(context.Context, string, int) ([]domain.SearchItem, error) {
	s.calls++
	return s.items, s.err
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure())
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	require.True(t, b.Allow())

	assert.True(t, b.RecordFailure())
	assert.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestGuard_FailsFastWhenOpen(t *testing.T) {
	inner := &stubProvider{name: "arxiv", err: errors.New("boom")}
	guarded := NewBreaker(1, time.Hour).Guard(inner)
	assert.Equal(t, "arxiv", guarded.Name())

	_, err := guarded.Search(context.Background(), "q", 5)
	assert.EqualError(t, err, "boom")

	_, err = guarded.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, inner.calls)
}

func TestGuard_PartialResultCountsAsSuccess(t *testing.T) {
	inner := &stubProvider{
		name:  "tavily",
		items: []domain.SearchItem{{Title: "kept"}},
		err:   errors.New("truncated page"),
	}
	b := NewBreaker(1, time.Hour)
	guarded := b.Guard(inner)

	items, err := guarded.Search(context.Background(), "q", 5)
	assert.Error(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "web"}))
	assert.Error(t, reg.Register(&stubProvider{name: "web"}))
	assert.Error(t, reg.Register(&stubProvider{name: ""}))
	assert.Error(t, reg.Register(nil))

	p, err := reg.Get("web")
	require.NoError(t, err)
	assert.Equal(t, "web", p.Name())

	_, err = reg.Get("scholar")
	assert.Error(t, err)
}

func TestNewRegistryFromConfig(t *testing.T) {
	reg, err := NewRegistryFromConfig(config.Default().Tools.Search, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv", "semantic_scholar", "tavily"}, reg.Names())
}
