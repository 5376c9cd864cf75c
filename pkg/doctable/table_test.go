package doctable

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kpfaulkner/collabstore/pkg/storage"
)

// project is the domain object used throughout these tests.
type project struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Stars int64  `json:"stars"`
}

func projectFields(p project) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		"owner": String(p.Owner),
		"name":  String(p.Name),
		"stars": Int(p.Stars),
	}
}

func newProjectTable() *Table[project] {
	return NewTable[project](storage.NewMemDB(), "projects", JSONCodec[project]{}, projectFields)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "bob:model1", NormalizeID("bob/model1"))
	assert.Equal(t, "plain", NormalizeID("plain"))

	// deterministic, and the documented collision: a pre-delimited id
	// normalizes to the same key as a separated one
	assert.Equal(t, NormalizeID("a/b"), NormalizeID("a/b"))
	assert.Equal(t, NormalizeID("a:b"), NormalizeID("a/b"))
}

func TestCreateThenFindOne(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	in := project{Owner: "bob", Name: "model1", Stars: 3}
	require.Nil(t, tbl.Create(ctx, "bob/model1", in))

	out, ok, err := tbl.FindOne(ctx, "bob/model1")
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out, "payload should roundtrip through the codec")
}

func TestFindOneMiss(t *testing.T) {
	tbl := newProjectTable()

	_, ok, err := tbl.FindOne(context.Background(), "nobody/nothing")
	require.Nil(t, err, "a miss is not an error")
	assert.False(t, ok)
}

func TestCreateDuplicate(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	first := project{Owner: "bob", Name: "model1", Stars: 1}
	require.Nil(t, tbl.Create(ctx, "bob/model1", first))

	err := tbl.Create(ctx, "bob/model1", project{Owner: "eve", Name: "model1"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	out, ok, err := tbl.FindOne(ctx, "bob/model1")
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, first, out, "failed create should leave the original untouched")
}

func TestUpdatePreconditionMatch(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1", Stars: 1}))

	updated := project{Owner: "bob", Name: "model1", Stars: 2}
	got, accepted, err := tbl.Update(ctx, "bob/model1", []Precondition{{Field: "stars", Want: Int(1)}}, updated)
	require.Nil(t, err)
	require.True(t, accepted)
	assert.Equal(t, updated, got)

	out, ok, err := tbl.FindOne(ctx, "bob/model1")
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, updated, out, "subsequent read should see the new payload")
}

func TestUpdatePreconditionMismatch(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	original := project{Owner: "bob", Name: "model1", Stars: 1}
	require.Nil(t, tbl.Create(ctx, "bob/model1", original))

	_, accepted, err := tbl.Update(ctx, "bob/model1",
		[]Precondition{{Field: "stars", Want: Int(99)}},
		project{Owner: "bob", Name: "model1", Stars: 2})
	require.Nil(t, err, "rejection is a result, not an error")
	assert.False(t, accepted)

	out, ok, err := tbl.FindOne(ctx, "bob/model1")
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, original, out, "rejected update should leave the document unchanged")
}

func TestUpdateMissingDocument(t *testing.T) {
	tbl := newProjectTable()

	_, accepted, err := tbl.Update(context.Background(), "nobody/nothing", nil, project{Owner: "x"})
	require.Nil(t, err)
	assert.False(t, accepted, "update of an absent document should be rejected")
}

func TestUpdateMissingPreconditionField(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1"}))

	_, accepted, err := tbl.Update(ctx, "bob/model1",
		[]Precondition{{Field: "nonexistent", Want: String("anything")}},
		project{Owner: "bob", Name: "model1", Stars: 1})
	require.Nil(t, err)
	assert.False(t, accepted, "a precondition on a field the document lacks should reject")
}

func TestConcurrentUpdateOneWinner(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1", Stars: 0}))

	const writers = 32
	stale := []Precondition{{Field: "stars", Want: Int(0)}}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, accepted, err := tbl.Update(ctx, "bob/model1", stale,
				project{Owner: "bob", Name: "model1", Stars: n})
			assert.Nil(t, err)
			if accepted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one contended update should commit")

	out, ok, err := tbl.FindOne(ctx, "bob/model1")
	require.Nil(t, err)
	require.True(t, ok)
	assert.NotEqual(t, int64(0), out.Stars, "the winner's write should be visible")
}

func TestFindIsRangeScanNotPrefixFilter(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "user/1", project{Owner: "user", Name: "1"}))
	require.Nil(t, tbl.Create(ctx, "user/2", project{Owner: "user", Name: "2"}))
	require.Nil(t, tbl.Create(ctx, "zzz", project{Owner: "zzz", Name: "zzz"}))

	objs, err := tbl.Find(ctx, "user/")
	require.Nil(t, err)

	// Find is a half-open range scan on identifier ordering: "zzz" sorts
	// after "user:" and is included even though it does not share the prefix.
	require.Len(t, objs, 3)
	assert.Equal(t, "1", objs[0].Name)
	assert.Equal(t, "2", objs[1].Name)
	assert.Equal(t, "zzz", objs[2].Name)
}

func TestFindStopsAtTableBoundary(t *testing.T) {
	db := storage.NewMemDB()
	tbl := NewTable[project](db, "projects", JSONCodec[project]{}, projectFields)
	other := NewTable[project](db, "users", JSONCodec[project]{}, projectFields)
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1"}))
	require.Nil(t, other.Create(ctx, "alice", project{Owner: "alice", Name: "alice"}))

	objs, err := tbl.Find(ctx, "")
	require.Nil(t, err)
	require.Len(t, objs, 1, "scan must not leak into another table's namespace")
	assert.Equal(t, "bob", objs[0].Owner)
}

func TestFindOneByScan(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1", Stars: 1}))
	require.Nil(t, tbl.Create(ctx, "eve/model2", project{Owner: "eve", Name: "model2", Stars: 2}))

	out, ok, err := tbl.FindOneByScan(ctx, map[string]*structpb.Value{"owner": String("eve")})
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, "model2", out.Name)

	_, ok, err = tbl.FindOneByScan(ctx, map[string]*structpb.Value{"owner": String("nobody")})
	require.Nil(t, err, "zero matches is not-found, not an error")
	assert.False(t, ok)
}

func TestFindOneByScanInvalidQuery(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	_, _, err := tbl.FindOneByScan(ctx, map[string]*structpb.Value{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, _, err = tbl.FindOneByScan(ctx, map[string]*structpb.Value{
		"owner": String("bob"),
		"name":  String("model1"),
	})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestFindOneByScanAmbiguous(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1"}))
	require.Nil(t, tbl.Create(ctx, "bob/model2", project{Owner: "bob", Name: "model2"}))

	_, _, err := tbl.FindOneByScan(ctx, map[string]*structpb.Value{"owner": String("bob")})
	assert.ErrorIs(t, err, ErrAmbiguousResult)
}

func TestNullIsStoredNotAbsent(t *testing.T) {
	type record struct {
		Name string `json:"name"`
	}
	db := storage.NewMemDB()
	tbl := NewTable[record](db, "records", JSONCodec[record]{}, func(r record) map[string]*structpb.Value {
		// nil must be normalized to an explicit null, never dropped
		return map[string]*structpb.Value{"name": String(r.Name), "extra": nil}
	})
	ctx := context.Background()

	require.Nil(t, tbl.Create(ctx, "r1", record{Name: "one"}))

	// a precondition on the explicit null matches...
	_, accepted, err := tbl.Update(ctx, "r1", []Precondition{{Field: "extra", Want: Null()}}, record{Name: "two"})
	require.Nil(t, err)
	assert.True(t, accepted, "stored null should satisfy a null precondition")

	// ...while a genuinely absent field does not
	_, accepted, err = tbl.Update(ctx, "r1", []Precondition{{Field: "missing", Want: Null()}}, record{Name: "three"})
	require.Nil(t, err)
	assert.False(t, accepted, "null is distinct from field-not-present")
}

func TestReservedFieldPanics(t *testing.T) {
	tbl := NewTable[project](storage.NewMemDB(), "projects", JSONCodec[project]{}, func(p project) map[string]*structpb.Value {
		return map[string]*structpb.Value{PayloadField: String("clash")}
	})

	assert.Panics(t, func() {
		_ = tbl.Create(context.Background(), "bob/model1", project{})
	}, "flatten projection emitting the reserved field is a programming error")
}

func TestDeleteOneIdempotentAndReusable(t *testing.T) {
	tbl := newProjectTable()
	ctx := context.Background()

	require.Nil(t, tbl.DeleteOne(ctx, "bob/model1"), "deleting a missing id is not an error")

	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1"}))
	require.Nil(t, tbl.DeleteOne(ctx, "bob/model1"))

	_, ok, err := tbl.FindOne(ctx, "bob/model1")
	require.Nil(t, err)
	assert.False(t, ok)

	// the id is free for a fresh create
	require.Nil(t, tbl.Create(ctx, "bob/model1", project{Owner: "bob", Name: "model1", Stars: 9}))
}

func TestTableNamePanicsOnSeparator(t *testing.T) {
	assert.Panics(t, func() {
		NewTable[project](storage.NewMemDB(), "bad/name", JSONCodec[project]{}, projectFields)
	})
}
