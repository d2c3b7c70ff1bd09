// Package handlers implements the six job-type handlers the registry
// dispatches to. All six share one skeleton: validate, resolve targets via
// the compound-key rule, group by provider, run provider groups in
// parallel but each provider's calls sequentially, emit incremental WS
// events, persist incrementally, and return a result reference.
//
// Grounded on tarsy's pkg/queue worker pool for the provider-group
// parallel-but-serial dispatch shape, and on the original Python handler
// modules for the per-handler algorithms (tool-eval scoring, param-tune
// combo dedup, prompt-tune generations, judge fan-out).
package handlers

import (
	"context"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/wshub"
)

// CompleterFactory builds a transport-bound Completer for one resolved
// target. Network I/O is out of scope for this port (spec §1); production
// wiring supplies a real LiteLLM gateway client, tests supply
// internal/llmshim/faketransport.
type CompleterFactory func(target ResolvedTarget) llmshim.Completer

// Deps bundles the collaborators every handler needs: the store for
// incremental persistence, the hub for typed WS events beyond the
// registry's own job_* frames, and the transport factory for LLM calls.
type Deps struct {
	Store     *store.Store
	Hub       *wshub.Hub
	Completer CompleterFactory
}

func (d *Deps) emit(ctx context.Context, userID, eventType string, data any) {
	if d.Hub == nil {
		return
	}
	d.Hub.SendToUser(ctx, userID, wshub.Envelope{Type: eventType, Data: data})
}

// loadCatalog builds the (provider, model) resolution catalog for userID
// from the store's registered providers/models (spec §4.6 Model selection).
func (d *Deps) loadCatalog(ctx context.Context, userID string) (Catalog, error) {
	providers, err := d.Store.Users().ListProvidersForUser(ctx, userID)
	if err != nil {
		return Catalog{}, err
	}
	catalog := Catalog{Providers: providers, Models: make(map[string][]models.Model, len(providers))}
	for _, p := range providers {
		ms, err := d.Store.Users().ListModelsForProvider(ctx, p.ID)
		if err != nil {
			return Catalog{}, err
		}
		catalog.Models[p.ID] = ms
	}
	return catalog, nil
}
