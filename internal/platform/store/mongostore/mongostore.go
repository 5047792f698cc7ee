// Package mongostore keeps property documents in MongoDB, one collection per
// namespace.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/fhirbridge/internal/platform/store"
)

const propsField = "properties"

// record is the stored shape of a document.
type record struct {
	ID         string    `bson:"_id"`
	Properties bson.Raw  `bson:"properties"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// Store implements store.Store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo connection uri is empty")
	}
	opts := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetConnectTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}, nil
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Create(ctx context.Context, namespace string, props map[string]any) (*store.Document, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is required", store.ErrConstraint)
	}
	p, err := store.Normalize(props)
	if err != nil {
		return nil, err
	}
	now := s.now()
	doc := &store.Document{
		ID:         uuid.NewString(),
		Namespace:  namespace,
		Properties: p,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.Collection(namespace).InsertOne(ctx, bson.M{
		"_id":       doc.ID,
		propsField:  p,
		"createdAt": now,
		"updatedAt": now,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %v", store.ErrConstraint, err)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *Store) Find(ctx context.Context, namespace, id string) (*store.Document, error) {
	var rec record
	err := s.db.Collection(namespace).FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return toDocument(namespace, rec)
}

func (s *Store) Query(ctx context.Context, namespace string, preds []store.Predicate, page store.Page) ([]*store.Document, int, error) {
	filter, err := buildFilter(preds)
	if err != nil {
		return nil, 0, err
	}
	coll := s.db.Collection(namespace)

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}
	defer cur.Close(ctx)

	var docs []*store.Document
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return nil, 0, fmt.Errorf("decode document: %w", err)
		}
		doc, err := toDocument(namespace, rec)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, int(total), cur.Err()
}

func (s *Store) Update(ctx context.Context, doc *store.Document, props map[string]any) (*store.Document, error) {
	p, err := store.Normalize(props)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec record
	err = s.db.Collection(doc.Namespace).FindOneAndUpdate(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": bson.M{propsField: p, "updatedAt": s.now()}},
		opts,
	).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update document: %w", err)
	}
	return toDocument(doc.Namespace, rec)
}

func (s *Store) Delete(ctx context.Context, doc *store.Document) error {
	res, err := s.db.Collection(doc.Namespace).DeleteOne(ctx, bson.M{"_id": doc.ID})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// toDocument decodes the stored properties through relaxed extended JSON so
// callers see the same generic shapes the other backends produce.
func toDocument(namespace string, rec record) (*store.Document, error) {
	props := map[string]any{}
	if len(rec.Properties) > 0 {
		raw, err := bson.MarshalExtJSON(rec.Properties, false, false)
		if err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
	}
	return &store.Document{
		ID:         rec.ID,
		Namespace:  namespace,
		Properties: props,
		CreatedAt:  rec.CreatedAt.UTC(),
		UpdatedAt:  rec.UpdatedAt.UTC(),
	}, nil
}

var mongoOps = map[store.Op]string{
	store.OpEq: "$eq",
	store.OpNe: "$ne",
	store.OpGt: "$gt",
	store.OpLt: "$lt",
	store.OpGe: "$gte",
	store.OpLe: "$lte",
}

// buildFilter translates predicates into a MongoDB filter. Dot paths map to
// Mongo dot notation, which already descends into arrays.
func buildFilter(preds []store.Predicate) (bson.M, error) {
	var and []bson.M
	for _, p := range preds {
		switch p := p.(type) {
		case store.IDIn:
			and = append(and, bson.M{"_id": bson.M{"$in": p.IDs}})
		case store.UpdatedAt:
			op, ok := mongoOps[p.Op]
			if !ok {
				return nil, fmt.Errorf("unsupported operator %q", p.Op)
			}
			and = append(and, bson.M{"updatedAt": bson.M{op: p.At}})
		case store.UpdatedBetween:
			and = append(and, bson.M{"updatedAt": bson.M{"$gte": p.From, "$lte": p.To}})
		case store.Equals:
			and = append(and, bson.M{field(p.Path): p.Value})
		case store.ContainsText:
			var or []bson.M
			for _, path := range p.Paths {
				or = append(or, bson.M{field(path): bson.M{"$regex": regexp.QuoteMeta(p.Text), "$options": "i"}})
			}
			and = append(and, bson.M{"$or": or})
		case store.ArrayContains:
			and = append(and, bson.M{field(p.Path): bson.M{"$elemMatch": dotted("", p.Element)}})
		case store.Compare:
			op, ok := mongoOps[p.Op]
			if !ok {
				return nil, fmt.Errorf("unsupported operator %q", p.Op)
			}
			and = append(and, bson.M{field(p.Path): bson.M{op: p.Value, "$type": "string"}})
		default:
			return nil, fmt.Errorf("unsupported predicate %T", p)
		}
	}
	if len(and) == 0 {
		return bson.M{}, nil
	}
	return bson.M{"$and": and}, nil
}

func field(path string) string {
	return propsField + "." + path
}

// dotted flattens nested objects into dot-notation keys so $elemMatch matches
// supersets rather than exact sub-documents.
func dotted(prefix string, m map[string]any) bson.M {
	out := bson.M{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range dotted(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
