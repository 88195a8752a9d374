package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"patchwork.dev/config"
	"patchwork.dev/interpret"
	"patchwork.dev/llm"
	"patchwork.dev/llm/ant"
	"patchwork.dev/llm/oai"
)

// newService builds the configured provider. It returns nil, without
// error, when no API key is available: the interpreter then only
// attempts the direct parse.
func newService(p config.Provider) (llm.Service, error) {
	key := p.APIKey()
	if key == "" {
		return nil, nil
	}
	switch p.Name {
	case "anthropic":
		return &ant.Service{APIKey: key, Model: p.Model, URL: p.URL}, nil
	case "openai":
		svc := &oai.Service{APIKey: key, ModelURL: p.URL}
		if p.Model != "" {
			svc.Model = oai.ModelByName(p.Model)
		}
		return svc, nil
	}
	return nil, fmt.Errorf("unknown provider %q", p.Name)
}

// meteredService accumulates the usage of every response from svc.
type meteredService struct {
	svc   llm.Service
	mu    sync.Mutex
	usage llm.Usage
}

func (m *meteredService) Do(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := m.svc.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.usage.Add(resp.Usage)
	m.mu.Unlock()
	return resp, nil
}

func (m *meteredService) Usage() llm.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// interpreter returns an interpreter for the configured provider and
// the meter counting its usage, which is nil without a provider.
func (a *app) interpreter() (*interpret.Interpreter, *meteredService, error) {
	svc, err := newService(a.cfg.Provider)
	if err != nil {
		return nil, nil, err
	}
	var meter *meteredService
	in := interpret.New(nil, a.cfg.Interpreter.Format)
	if svc != nil {
		meter = &meteredService{svc: svc}
		in.Service = meter
	}
	if r := a.cfg.Interpreter.Retries; r != nil {
		in.Retries = *r
	}
	in.Logger = slog.Default()
	return in, meter, nil
}
