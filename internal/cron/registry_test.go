package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	payout, expiry := &stubJob{name: "payout-settlement"}, &stubJob{name: "open-job-expiry"}
	registry := NewRegistry(payout, nil, expiry)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, payout, jobs[0])
	assert.Equal(t, []string{"payout-settlement", "open-job-expiry"}, registry.Names())

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0])
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry(&stubJob{name: "payout-settlement"})
	require.Error(t, registry.Register(&stubJob{name: "payout-settlement"}))
	assert.Len(t, registry.Jobs(), 1)
}
