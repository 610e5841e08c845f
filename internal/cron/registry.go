package cron

import (
	"context"
	"fmt"
)

// Job is one sweep inside a cron cycle. Name doubles as the metric label.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order. Payout settlement is registered
// first so it runs while the lease is freshest.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry registers jobs in order and silently drops duplicate names.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		_ = r.Register(job)
	}
	return r
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if _, taken := r.names[job.Name()]; taken {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
