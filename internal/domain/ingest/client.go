package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

// ClientNamespace holds external client records in the property store.
const ClientNamespace = "external-api-client"

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Credential is the rotating OAuth token pair for one external client.
type Credential struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// ErrorMetadata carries diagnostic context of the last failed run.
type ErrorMetadata struct {
	Backtrace []string `json:"backtrace"`
}

// ExternalClient is the configuration and status record of one wearable
// integration.
type ExternalClient struct {
	ID            string         `json:"-"`
	Name          string         `json:"name"`
	PatientID     string         `json:"patientId"`
	Credential    Credential     `json:"credential"`
	Status        string         `json:"status,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	ErrorMetadata *ErrorMetadata `json:"errorMetadata,omitempty"`
	LastRunAt     *time.Time     `json:"lastRunAt,omitempty"`

	doc *store.Document
}

// ErrClientNotFound is returned when no client record has the requested id.
var ErrClientNotFound = errors.New("external client not found")

// Clients reads and writes ExternalClient records.
type Clients struct {
	store store.Store
}

func NewClients(st store.Store) *Clients {
	return &Clients{store: st}
}

func (c *Clients) Create(ctx context.Context, ec *ExternalClient) error {
	props, err := toProperties(ec)
	if err != nil {
		return err
	}
	doc, err := c.store.Create(ctx, ClientNamespace, props)
	if err != nil {
		return fmt.Errorf("create external client: %w", err)
	}
	ec.ID = doc.ID
	ec.doc = doc
	return nil
}

func (c *Clients) Get(ctx context.Context, id string) (*ExternalClient, error) {
	doc, err := c.store.Find(ctx, ClientNamespace, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load external client %s: %w", id, err)
	}
	return fromDocument(doc)
}

// List returns every client record, oldest first.
func (c *Clients) List(ctx context.Context) ([]*ExternalClient, error) {
	docs, _, err := c.store.Query(ctx, ClientNamespace, nil, store.Page{})
	if err != nil {
		return nil, fmt.Errorf("list external clients: %w", err)
	}
	out := make([]*ExternalClient, 0, len(docs))
	for _, d := range docs {
		ec, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, nil
}

// Save writes ec back over its stored record.
func (c *Clients) Save(ctx context.Context, ec *ExternalClient) error {
	if ec.doc == nil {
		return fmt.Errorf("save external client %s: record was not loaded", ec.ID)
	}
	props, err := toProperties(ec)
	if err != nil {
		return err
	}
	doc, err := c.store.Update(ctx, ec.doc, props)
	if err != nil {
		return fmt.Errorf("save external client %s: %w", ec.ID, err)
	}
	ec.doc = doc
	return nil
}

func toProperties(ec *ExternalClient) (map[string]any, error) {
	raw, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("encode external client: %w", err)
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("encode external client: %w", err)
	}
	return props, nil
}

func fromDocument(doc *store.Document) (*ExternalClient, error) {
	raw, err := json.Marshal(doc.Properties)
	if err != nil {
		return nil, fmt.Errorf("decode external client %s: %w", doc.ID, err)
	}
	var ec ExternalClient
	if err := json.Unmarshal(raw, &ec); err != nil {
		return nil, fmt.Errorf("decode external client %s: %w", doc.ID, err)
	}
	ec.ID = doc.ID
	ec.doc = doc
	return &ec, nil
}
