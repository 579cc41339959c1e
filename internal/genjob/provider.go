package genjob

import (
	"context"
	"fmt"
	"sort"
)

// Provider is a generative-media backend.
type Provider interface {
	// Name identifies the provider in logs, metrics and job records.
	Name() string
	// Submit starts a job. Transport failures return ProviderUnavailable;
	// non-success responses return ProviderRejected.
	Submit(ctx context.Context, req Request) (*GenerationJob, error)
	// Status fetches the current state of a non-terminal job.
	Status(ctx context.Context, job *GenerationJob) (Update, error)
}

// Registry resolves providers by name.
type Registry map[string]Provider

// Register adds p under its Name.
func (r Registry) Register(p Provider) {
	r[p.Name()] = p
}

// Get returns the provider registered as name.
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		names := make([]string, 0, len(r))
		for n := range r {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, names)
	}
	return p, nil
}
