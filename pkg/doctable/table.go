package doctable

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kpfaulkner/collabstore/pkg/storage"
)

const (
	// PayloadField is the reserved document field holding the serialized
	// domain object. The flatten projection must never produce it.
	PayloadField = "payload"

	// pathSeparator structures store keys as <table>/<id>.
	pathSeparator = "/"

	// idDelimiter is substituted for the separator when normalizing ids.
	idDelimiter = ":"
)

// Flattener projects a domain object onto its scalar query fields. The
// projection is what FindOneByScan and update preconditions evaluate against;
// it does not need to cover every field of the object.
type Flattener[T any] func(obj T) map[string]*structpb.Value

// Table maps string identifiers to documents holding the flattened scalar
// fields of a domain object plus its serialized payload. All mutual exclusion
// is delegated to the backing store; the table itself holds no state beyond
// its configuration and is safe for concurrent use.
type Table[T any] struct {
	db      storage.DB
	name    string
	codec   Codec[T]
	flatten Flattener[T]
}

// NewTable binds a table name to a store, codec and flatten projection.
// The name becomes the key namespace and must not contain the path separator.
func NewTable[T any](db storage.DB, name string, codec Codec[T], flatten Flattener[T]) *Table[T] {
	if strings.Contains(name, pathSeparator) {
		panic(fmt.Sprintf("doctable: table name %q contains %q", name, pathSeparator))
	}
	return &Table[T]{db: db, name: name, codec: codec, flatten: flatten}
}

// NormalizeID makes an identifier safe for use in a store key by substituting
// the reserved delimiter for the path separator. One-way and deterministic:
// "a/b" and "a:b" normalize to the same key, which is acceptable only because
// original identifiers are assumed not to contain the delimiter.
func NormalizeID(id string) string {
	return strings.ReplaceAll(id, pathSeparator, idDelimiter)
}

func (t *Table[T]) key(id string) string {
	return t.name + pathSeparator + NormalizeID(id)
}

// encode builds the stored document: flattened scalars plus the payload field,
// serialized as a protobuf Struct.
func (t *Table[T]) encode(obj T) ([]byte, error) {
	doc := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if t.flatten != nil {
		for name, value := range t.flatten(obj) {
			if name == PayloadField {
				// programming error in the flatten projection, not bad input
				panic(fmt.Sprintf("doctable: flatten projection produced reserved field %q", PayloadField))
			}
			doc.Fields[name] = normalizeValue(value)
		}
	}

	payload, err := t.codec.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	doc.Fields[PayloadField] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(payload))

	return proto.Marshal(doc)
}

func (t *Table[T]) decode(data []byte) (T, error) {
	var zero T
	doc := &structpb.Struct{}
	if err := proto.Unmarshal(data, doc); err != nil {
		return zero, fmt.Errorf("unmarshal document: %w", err)
	}
	return t.decodeStruct(doc)
}

func (t *Table[T]) decodeStruct(doc *structpb.Struct) (T, error) {
	var zero T
	field, ok := doc.Fields[PayloadField]
	if !ok {
		return zero, fmt.Errorf("document missing %q field", PayloadField)
	}
	payload, err := base64.StdEncoding.DecodeString(field.GetStringValue())
	if err != nil {
		return zero, fmt.Errorf("decode payload: %w", err)
	}
	return t.codec.Unmarshal(payload)
}

// FindOne returns the object stored under id. A miss is reported via the ok
// result, not an error.
func (t *Table[T]) FindOne(ctx context.Context, id string) (T, bool, error) {
	var zero T
	data, err := t.db.Get(ctx, t.key(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	obj, err := t.decode(data)
	if err != nil {
		return zero, false, err
	}
	return obj, true, nil
}

// FindOneByScan looks up the single document whose flattened fields satisfy
// the equality predicate. Exactly one predicate field is permitted. The table
// does not enforce uniqueness; if more than one document matches, the caller's
// integrity expectation is violated and ErrAmbiguousResult is returned.
func (t *Table[T]) FindOneByScan(ctx context.Context, predicate map[string]*structpb.Value) (T, bool, error) {
	var zero T
	if len(predicate) != 1 {
		return zero, false, fmt.Errorf("%w: got %d fields", ErrInvalidQuery, len(predicate))
	}
	var field string
	var want *structpb.Value
	for k, v := range predicate {
		field, want = k, normalizeValue(v)
	}

	entries, err := t.db.Scan(ctx, t.name+pathSeparator)
	if err != nil {
		return zero, false, err
	}

	var match *structpb.Struct
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, t.name+pathSeparator) {
			break
		}
		doc := &structpb.Struct{}
		if err := proto.Unmarshal(e.Value, doc); err != nil {
			return zero, false, fmt.Errorf("unmarshal document %s: %w", e.Key, err)
		}
		got, ok := doc.Fields[field]
		if !ok || !proto.Equal(got, want) {
			continue
		}
		if match != nil {
			return zero, false, fmt.Errorf("%w: field %q", ErrAmbiguousResult, field)
		}
		match = doc
	}
	if match == nil {
		return zero, false, nil
	}
	obj, err := t.decodeStruct(match)
	if err != nil {
		return zero, false, err
	}
	return obj, true, nil
}

// Find returns every document in the table whose normalized identifier is
// lexicographically >= idPrefix, ordered by identifier ascending. This is a
// half-open range scan, not a true prefix filter: identifiers that sort after
// the prefix without sharing it are included too. Known limitation, kept.
func (t *Table[T]) Find(ctx context.Context, idPrefix string) ([]T, error) {
	entries, err := t.db.Scan(ctx, t.key(idPrefix))
	if err != nil {
		return nil, err
	}
	var objs []T
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, t.name+pathSeparator) {
			break
		}
		obj, err := t.decode(e.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Create stores obj under id, failing with ErrAlreadyExists if the id is
// occupied. Insert-if-absent is atomic in the backing store.
func (t *Table[T]) Create(ctx context.Context, id string, obj T) error {
	data, err := t.encode(obj)
	if err != nil {
		return err
	}
	err = t.db.Insert(ctx, t.key(id), data)
	if errors.Is(err, storage.ErrKeyExists) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	return err
}

// Update replaces the document under id if every precondition matches the
// currently stored fields, atomically with respect to concurrent updates on
// the same id. Rejection (a precondition no longer holds, or the document is
// gone) is an ordinary result reported via accepted=false. Store failures are
// wrapped as ErrStoreUnavailable so callers can tell them apart.
func (t *Table[T]) Update(ctx context.Context, id string, preconditions []Precondition, obj T) (T, bool, error) {
	var zero T
	data, err := t.encode(obj)
	if err != nil {
		return zero, false, err
	}

	err = t.db.Update(ctx, t.key(id), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, errRejected
		}
		doc := &structpb.Struct{}
		if err := proto.Unmarshal(current, doc); err != nil {
			return nil, err
		}
		for _, p := range preconditions {
			got, ok := doc.Fields[p.Field]
			if !ok || !proto.Equal(got, normalizeValue(p.Want)) {
				return nil, errRejected
			}
		}
		return data, nil
	})
	if errors.Is(err, errRejected) {
		log.Debugf("update of %s rejected by precondition", id)
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return obj, true, nil
}

// DeleteOne removes the document under id. Deleting an absent id is a no-op;
// the id becomes available for a future Create with a fresh lineage.
func (t *Table[T]) DeleteOne(ctx context.Context, id string) error {
	return t.db.Delete(ctx, t.key(id))
}
