package resource

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ehr/fhirbridge/internal/platform/fhir"
	"github.com/ehr/fhirbridge/internal/platform/schema"
	"github.com/ehr/fhirbridge/internal/platform/store"
	"github.com/ehr/fhirbridge/pkg/pagination"
)

// Service implements the FHIR interactions for every registered resource
// type on top of a property store.
type Service struct {
	store     store.Store
	registry  *schema.Registry
	codec     *fhir.Codec
	validator *fhir.Validator
	search    *fhir.SearchRegistry
}

func NewService(st store.Store, registry *schema.Registry, codec *fhir.Codec, search *fhir.SearchRegistry) *Service {
	return &Service{
		store:     st,
		registry:  registry,
		codec:     codec,
		validator: fhir.NewValidator(registry),
		search:    search,
	}
}

func (s *Service) namespace(resourceType string) (*schema.Namespace, error) {
	ns, ok := s.registry.Namespace(resourceType)
	if !ok {
		return nil, &fhir.UnsupportedTypeError{ResourceType: resourceType}
	}
	return ns, nil
}

func (s *Service) Create(ctx context.Context, resourceType string, data map[string]any) (fhir.Resource, error) {
	ns, err := s.namespace(resourceType)
	if err != nil {
		return nil, err
	}
	res, err := s.validator.ValidateOrError(resourceType, data)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Create(ctx, ns.Slug, s.codec.ToDocumentProperties(resourceType, res))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resourceType, err)
	}
	return s.codec.ToCanonical(doc), nil
}

func (s *Service) Read(ctx context.Context, resourceType, id string) (fhir.Resource, error) {
	doc, err := s.find(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	return s.codec.ToCanonical(doc), nil
}

// Update replaces the properties of an existing resource. A body id, when
// given, must match the addressed id.
func (s *Service) Update(ctx context.Context, resourceType, id string, data map[string]any) (fhir.Resource, error) {
	doc, err := s.find(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	if bodyID, ok := data["id"].(string); ok && bodyID != id {
		return nil, &fhir.BadRequestError{Message: fmt.Sprintf("resource id %s does not match URL id %s", bodyID, id)}
	}
	res, err := s.validator.ValidateOrError(resourceType, data)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, doc, s.codec.ToDocumentProperties(resourceType, res))
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", resourceType, id, err)
	}
	return s.codec.ToCanonical(updated), nil
}

func (s *Service) Delete(ctx context.Context, resourceType, id string) error {
	doc, err := s.find(ctx, resourceType, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc); err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}
	return nil
}

// Search compiles q into store predicates and returns one page of matches.
// requestURL is echoed as the bundle's self link.
func (s *Service) Search(ctx context.Context, resourceType string, q url.Values, requestURL string) (*fhir.Bundle, error) {
	ns, err := s.namespace(resourceType)
	if err != nil {
		return nil, err
	}
	preds, err := s.search.Compile(resourceType, q)
	if err != nil {
		return nil, err
	}
	page := pagination.FromQuery(q)
	docs, total, err := s.store.Query(ctx, ns.Slug, preds, store.Page{Limit: page.Count, Offset: page.Offset()})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", resourceType, err)
	}
	return s.codec.ToBundle(docs, resourceType, requestURL, &total, page), nil
}

func (s *Service) find(ctx context.Context, resourceType, id string) (*store.Document, error) {
	ns, err := s.namespace(resourceType)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Find(ctx, ns.Slug, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &fhir.NotFoundError{ResourceType: resourceType, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", resourceType, id, err)
	}
	return doc, nil
}
