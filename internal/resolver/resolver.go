// Package resolver implements the Model Resolver (§4.4): identifier → model
// lookup, allowedModels enforcement, and ordered endpoint-list construction.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

// ErrModelNotFound is returned when no enabled model matches the identifier.
var ErrModelNotFound = errors.New("model not found")

// ErrModelNotAllowed is returned when the token's allowedModels list is
// non-empty and excludes the resolved model.
var ErrModelNotAllowed = errors.New("model not allowed for this token")

// vaultReferencePrefix marks a Model/SubModel.APIKey value as an indirection
// into the credential vault rather than a plaintext key. Admin writes that
// go through the vault store this reference instead of the raw secret
// (§9 "adapted to encrypt Model.apiKey/SubModel.apiKey at rest").
const vaultReferencePrefix = "vault:"

// secretVault decrypts a vault-indirected API key back to plaintext. The
// concrete *vault.Vault implements this; it is narrowed to an interface
// here so resolver never depends on the vault's lock/unlock lifecycle.
type secretVault interface {
	Get(key string) (string, error)
}

type Resolver struct {
	store store.Store
	vault secretVault
	log   *slog.Logger
}

func New(s store.Store) *Resolver {
	return &Resolver{store: s, log: slog.Default()}
}

// WithVault enables resolving "vault:<key>" indirected API keys back to
// plaintext before they're handed to the forwarder.
func WithVault(v secretVault) func(*Resolver) {
	return func(r *Resolver) { r.vault = v }
}

// NewWithOptions is New plus functional options (currently just WithVault).
func NewWithOptions(s store.Store, opts ...func(*Resolver)) *Resolver {
	r := New(s)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) revealKey(apiKey string) string {
	ref, ok := strings.CutPrefix(apiKey, vaultReferencePrefix)
	if !ok || r.vault == nil {
		return apiKey
	}
	plain, err := r.vault.Get(ref)
	if err != nil {
		r.log.Warn("resolver: vault lookup failed, endpoint will authenticate with an empty key", slog.String("error", err.Error()))
		return ""
	}
	return plain
}

// Resolved is a model plus its ordered endpoint list.
type Resolved struct {
	Model     domain.Model
	Endpoints []domain.Endpoint
}

// Resolve looks up identifier (id, name, or alias) among enabled models,
// enforces the token's allowedModels restriction, and builds the endpoint
// list: [primary, ...enabled sub-models sorted by sortOrder].
func (r *Resolver) Resolve(ctx context.Context, identifier string, token domain.ApiToken) (*Resolved, error) {
	model, err := r.store.GetModelByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup model: %w", err)
	}
	if model == nil {
		return nil, ErrModelNotFound
	}

	if len(token.AllowedModels) > 0 && !contains(token.AllowedModels, model.ID) {
		return nil, ErrModelNotAllowed
	}

	subModels, err := r.store.ListSubModels(ctx, model.ID)
	if err != nil {
		return nil, fmt.Errorf("list sub-models: %w", err)
	}

	primaryName := model.UpstreamModelName
	if primaryName == "" {
		primaryName = model.Name
	}

	endpoints := make([]domain.Endpoint, 0, 1+len(subModels))
	endpoints = append(endpoints, domain.Endpoint{
		URL:          model.EndpointURL,
		APIKey:       r.revealKey(model.APIKey),
		ModelName:    primaryName,
		ExtraHeaders: model.ExtraHeaders,
	})
	for _, sm := range subModels {
		name := sm.ModelName
		if name == "" {
			name = primaryName
		}
		endpoints = append(endpoints, domain.Endpoint{
			URL:          sm.EndpointURL,
			APIKey:       r.revealKey(sm.APIKey),
			ModelName:    name,
			ExtraHeaders: sm.ExtraHeaders,
		})
	}

	return &Resolved{Model: *model, Endpoints: endpoints}, nil
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
