package server

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kpfaulkner/collabstore/pkg/doctable"
	"github.com/kpfaulkner/collabstore/pkg/storage"
)

var (
	// ErrObjectNotFound indicates a load or save against an object that does
	// not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrVersionConflict indicates the stored version advanced past the
	// version the caller last observed. The save is rejected; the caller must
	// reload and retry.
	ErrVersionConflict = errors.New("version conflict")
)

const (
	objectTable    = "objects"
	initialVersion = 0
)

// StoredObject is the domain object the save/load protocol persists: an owner
// qualified name, the opaque payload produced by the editing surface, and the
// protocol version counter.
type StoredObject struct {
	Owner   string `json:"owner"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
	Payload []byte `json:"payload"`
}

// flattenObject is the scalar projection used for query predicates and save
// preconditions. The payload stays out of it; it lives in the reserved field.
func flattenObject(o StoredObject) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		"owner":   doctable.String(o.Owner),
		"name":    doctable.String(o.Name),
		"version": doctable.Int(o.Version),
	}
}

// ObjectService implements the server side of the versioned save/load
// protocol on top of a document table. The version counter is owned here: it
// is persisted as a scalar field of the stored object and asserted as the
// single precondition on every save.
type ObjectService struct {
	table *doctable.Table[StoredObject]
}

func NewObjectService(db storage.DB) *ObjectService {
	return &ObjectService{
		table: doctable.NewTable[StoredObject](db, objectTable, doctable.JSONCodec[StoredObject]{}, flattenObject),
	}
}

func objectID(owner, name string) string {
	return owner + "/" + name
}

// Load fetches the payload and current version for an object.
func (s *ObjectService) Load(ctx context.Context, owner, name string) (StoredObject, error) {
	obj, ok, err := s.table.FindOne(ctx, objectID(owner, name))
	if err != nil {
		return StoredObject{}, err
	}
	if !ok {
		return StoredObject{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, owner, name)
	}
	return obj, nil
}

// Create stores a brand new object. Its version lineage starts at 0; an
// object recreated after a delete starts over, it does not continue the old
// lineage.
func (s *ObjectService) Create(ctx context.Context, owner, name string, payload []byte) (int64, error) {
	obj := StoredObject{Owner: owner, Name: name, Version: initialVersion, Payload: payload}
	if err := s.table.Create(ctx, objectID(owner, name), obj); err != nil {
		return 0, err
	}
	log.Infof("created object %s/%s", owner, name)
	return obj.Version, nil
}

// Save accepts the payload iff the persisted version still equals
// currentVersion at the instant of the transactional check, assigning and
// returning the next version. A concurrent save that got there first leaves
// the caller with ErrVersionConflict.
func (s *ObjectService) Save(ctx context.Context, owner, name string, currentVersion int64, payload []byte) (int64, error) {
	next := StoredObject{Owner: owner, Name: name, Version: currentVersion + 1, Payload: payload}

	preconditions := []doctable.Precondition{{Field: "version", Want: doctable.Int(currentVersion)}}
	_, accepted, err := s.table.Update(ctx, objectID(owner, name), preconditions, next)
	if err != nil {
		return 0, err
	}
	if !accepted {
		// distinguish "gone" from "someone else saved first" for the caller's
		// error message; both are rejections
		if _, ok, ferr := s.table.FindOne(ctx, objectID(owner, name)); ferr == nil && !ok {
			return 0, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, owner, name)
		}
		log.Debugf("save of %s/%s rejected at version %d", owner, name, currentVersion)
		return 0, fmt.Errorf("%w: %s/%s at version %d", ErrVersionConflict, owner, name, currentVersion)
	}
	return next.Version, nil
}

// Delete removes an object. Deleting an absent object is a no-op.
func (s *ObjectService) Delete(ctx context.Context, owner, name string) error {
	return s.table.DeleteOne(ctx, objectID(owner, name))
}

// List returns the owner's objects. This inherits the table's range-scan
// semantics: objects sorting after "<owner>/" are included even when the
// owner differs.
func (s *ObjectService) List(ctx context.Context, owner string) ([]StoredObject, error) {
	return s.table.Find(ctx, owner+"/")
}
