package ridgekv_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ridgekv/ridgekv"
)

// openTestDB creates a fresh in-memory environment with one bytes-keyed
// database, ready for Insert/Find/Erase/CursorCreate.
func openTestDB(t *testing.T) (*ridgekv.Environment, *ridgekv.Database) {
	t.Helper()
	env, err := ridgekv.Create("", ridgekv.CreateOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close(0) })

	db, err := env.CreateDatabase(1, ridgekv.DatabaseParams{KeyKind: ridgekv.KeyKindBytes})
	require.NoError(t, err)
	return env, db
}

// S1 — cursors cloned while inserting a large, monotonically increasing
// key set survive every split the B+tree performs underneath them, and
// still report the exact (key, record) pair they were cloned at.
func TestCursorSurvivesSplits(t *testing.T) {
	_, db := openTestDB(t)

	const n = 2000
	var clones []*ridgekv.Cursor
	var clonedKeys [][]byte

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("%05d", i))
		require.NoError(t, db.Insert(nil, key, key, 0))

		if i%10 == 0 {
			cur := db.CursorCreate(nil)
			_, _, err := cur.Find(key, ridgekv.FindExact)
			require.NoError(t, err)
			clones = append(clones, cur.Clone())
			clonedKeys = append(clonedKeys, append([]byte(nil), key...))
		}
	}

	for i, cur := range clones {
		require.Equal(t, clonedKeys[i], cur.CurrentKey())
		v, err := cur.Value()
		require.NoError(t, err)
		require.Equal(t, clonedKeys[i], v)
	}
}

// S2 — duplicates inserted outside a transaction and duplicates
// appended inside one merge into a single ordered sequence.
func TestDuplicateMergingAcrossLayers(t *testing.T) {
	env, db := openTestDB(t)

	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("r1.1"), ridgekv.Duplicate))
	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("r1.2"), ridgekv.Duplicate))
	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("r1.3"), ridgekv.Duplicate))

	tx := env.BeginTxn("", 0)
	require.NoError(t, db.Insert(tx, []byte("k1"), []byte("r1.4"), ridgekv.Duplicate))
	require.NoError(t, db.Insert(tx, []byte("k1"), []byte("r1.5"), ridgekv.Duplicate))

	cur := db.CursorCreate(tx)
	want := []string{"r1.1", "r1.2", "r1.3", "r1.4", "r1.5"}
	key, value, err := cur.Move(ridgekv.MoveFirst)
	require.NoError(t, err)
	require.Equal(t, []byte("k1"), key)
	require.Equal(t, want[0], string(value))
	for i := 1; i < len(want); i++ {
		key, value, err = cur.Move(ridgekv.MoveNext)
		require.NoError(t, err)
		require.Equal(t, []byte("k1"), key)
		require.Equal(t, want[i], string(value))
	}
	_, _, err = cur.Move(ridgekv.MoveNext)
	require.ErrorIs(t, err, ridgekv.ErrKeyNotFound)
}

// S3 — a second transaction that reads a key another still-active
// transaction has just written observes a conflict, and sees
// KeyNotFound once the writer aborts.
func TestWriteConflictThenAbort(t *testing.T) {
	env, db := openTestDB(t)

	t1 := env.BeginTxn("", 0)
	require.NoError(t, db.Insert(t1, []byte("k"), []byte("v1"), 0))

	t2 := env.BeginTxn("", 0)
	_, err := db.Find(t2, []byte("k"), ridgekv.FindExact)
	var rerr *ridgekv.Error
	require.ErrorAs(t, err, &rerr)
	require.ErrorIs(t, err, ridgekv.ErrTxnConflict)

	require.NoError(t, t1.Abort())

	_, err = db.Find(t2, []byte("k"), ridgekv.FindExact)
	require.ErrorIs(t, err, ridgekv.ErrKeyNotFound)
	require.NoError(t, t2.Abort())
}

// S4 — an auto-commit reader keeps seeing a key's last-committed value
// while a concurrent transaction has a pending (uncommitted) erase on
// it, and only sees the erase once that transaction commits and
// flushes.
func TestEraseInTxnVisibility(t *testing.T) {
	env, db := openTestDB(t)

	require.NoError(t, db.Insert(nil, []byte("k"), []byte("v"), 0))

	tx := env.BeginTxn("", 0)
	require.NoError(t, db.Erase(tx, []byte("k"), 0))

	_, err := db.Find(tx, []byte("k"), ridgekv.FindExact)
	require.ErrorIs(t, err, ridgekv.ErrKeyNotFound)

	v, err := db.Find(nil, []byte("k"), ridgekv.FindExact)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, tx.Commit())

	_, err = db.Find(nil, []byte("k"), ridgekv.FindExact)
	require.ErrorIs(t, err, ridgekv.ErrKeyNotFound)
}

// S5 — a cursor stepping forward, then backward, then forward again
// re-emits the boundary key exactly once per direction reversal.
func TestCursorDirectionReversal(t *testing.T) {
	_, db := openTestDB(t)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, db.Insert(nil, []byte(k), []byte(k), 0))
	}

	cur := db.CursorCreate(nil)
	assertMove := func(flag ridgekv.Flag, want string) {
		t.Helper()
		key, _, err := cur.Move(flag)
		require.NoError(t, err)
		require.Equal(t, want, string(key))
	}

	assertMove(ridgekv.MoveFirst, "a")
	assertMove(ridgekv.MoveNext, "b")
	assertMove(ridgekv.MoveNext, "c")
	assertMove(ridgekv.MovePrevious, "b")
	assertMove(ridgekv.MoveNext, "c")
	assertMove(ridgekv.MoveNext, "d")
}

// S6 — an approximate find that lands on a key erased by a visible
// transaction op keeps stepping until it reaches a key the caller can
// actually see, and reports that it did so.
func TestApproximateFindSkipsErasedKey(t *testing.T) {
	env, db := openTestDB(t)

	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("v1"), 0))
	require.NoError(t, db.Insert(nil, []byte("k2"), []byte("v2"), 0))
	require.NoError(t, db.Insert(nil, []byte("k3"), []byte("v3"), 0))

	tx := env.BeginTxn("", 0)
	require.NoError(t, db.Erase(tx, []byte("k2"), 0))

	cur := db.CursorCreate(tx)
	value, match, err := cur.Find([]byte("k2"), ridgekv.FindLeqMatch)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)
	require.Equal(t, ridgekv.MatchLT, match)
	require.Equal(t, []byte("k1"), cur.CurrentKey())
}

// S7 — once a transaction commits and its ops flush, a cursor that was
// coupled to its overlay entry re-couples to the B+tree and keeps
// reporting the same value.
func TestCommittedFlushRecouplesCursor(t *testing.T) {
	env, db := openTestDB(t)

	tx := env.BeginTxn("", 0)
	require.NoError(t, db.Insert(tx, []byte("k"), []byte("v"), 0))

	cur := db.CursorCreate(tx)
	_, _, err := cur.Find([]byte("k"), ridgekv.FindExact)
	require.NoError(t, err)
	require.True(t, cur.IsTxnCoupled())

	require.NoError(t, tx.Commit())

	v, err := cur.Value()
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	require.False(t, cur.IsTxnCoupled())
}

// Universal invariant: round-trip — every inserted record is found
// exactly as written.
func TestRoundTrip(t *testing.T) {
	_, db := openTestDB(t)
	records := map[string]string{"alpha": "1", "beta": "2", "gamma": "3"}
	for k, v := range records {
		require.NoError(t, db.Insert(nil, []byte(k), []byte(v), 0))
	}
	for k, v := range records {
		got, err := db.Find(nil, []byte(k), ridgekv.FindExact)
		require.NoError(t, err)
		require.Equal(t, v, string(got))
	}
}

// Universal invariant: order preservation — forward iteration visits
// keys in ascending order regardless of insertion order.
func TestOrderPreservation(t *testing.T) {
	_, db := openTestDB(t)
	for _, k := range []string{"m", "a", "z", "b", "y"} {
		require.NoError(t, db.Insert(nil, []byte(k), []byte(k), 0))
	}
	cur := db.CursorCreate(nil)
	var seen []string
	key, _, err := cur.Move(ridgekv.MoveFirst)
	require.NoError(t, err)
	seen = append(seen, string(key))
	for {
		key, _, err = cur.Move(ridgekv.MoveNext)
		if errors.Is(err, ridgekv.ErrKeyNotFound) {
			break
		}
		require.NoError(t, err)
		seen = append(seen, string(key))
	}
	require.Equal(t, []string{"a", "b", "m", "y", "z"}, seen)
}

// Universal invariant: idempotent re-couple — finding the same key
// twice in a row returns the same record without side effects.
func TestIdempotentFind(t *testing.T) {
	_, db := openTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("k"), []byte("v"), 0))
	cur := db.CursorCreate(nil)
	for i := 0; i < 3; i++ {
		v, _, err := cur.Find([]byte("k"), ridgekv.FindExact)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
}

func TestCheckIntegrity(t *testing.T) {
	_, db := openTestDB(t)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("%04d", i))
		require.NoError(t, db.Insert(nil, key, key, 0))
	}
	require.NoError(t, db.CheckIntegrity())
}

// openSmallPageDB mirrors openTestDB but with the minimum page size, so
// a few hundred keys are enough to force splits on insert and
// underfull-node rebalancing on erase.
func openSmallPageDB(t *testing.T) *ridgekv.Database {
	t.Helper()
	env, err := ridgekv.Create("", ridgekv.CreateOptions{PageSize: 512})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close(0) })

	db, err := env.CreateDatabase(1, ridgekv.DatabaseParams{KeyKind: ridgekv.KeyKindBytes})
	require.NoError(t, err)
	return db
}

// Mass-erasing most of a densely split tree must leave every surviving
// key findable and the tree structurally sound: each underfull node
// eraseRec produces along the way is borrowed-from or merged back to
// the minimum occupancy invariant rather than left as a dangling
// fragment (spec.md §3, §4.1).
func TestEraseRebalancesUnderfullNodes(t *testing.T) {
	db := openSmallPageDB(t)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("%05d", i))
		require.NoError(t, db.Insert(nil, key, key, 0))
	}
	require.NoError(t, db.CheckIntegrity())

	var survivors []int
	for i := 0; i < n; i++ {
		if i%3 != 0 {
			key := []byte(fmt.Sprintf("%05d", i))
			require.NoError(t, db.Erase(nil, key, 0))
			continue
		}
		survivors = append(survivors, i)
	}
	require.NoError(t, db.CheckIntegrity())

	for _, i := range survivors {
		key := []byte(fmt.Sprintf("%05d", i))
		v, err := db.Find(nil, key, ridgekv.FindExact)
		require.NoError(t, err)
		require.Equal(t, key, v)
	}

	cur := db.CursorCreate(nil)
	var seen []string
	key, _, err := cur.Move(ridgekv.MoveFirst)
	require.NoError(t, err)
	seen = append(seen, string(key))
	for {
		key, _, err = cur.Move(ridgekv.MoveNext)
		if errors.Is(err, ridgekv.ErrKeyNotFound) {
			break
		}
		require.NoError(t, err)
		seen = append(seen, string(key))
	}
	require.Len(t, seen, len(survivors))
	for i, idx := range survivors {
		require.Equal(t, fmt.Sprintf("%05d", idx), seen[i])
	}
}

// Database.Insert has no cursor, so DuplicateInsertBefore/After —
// defined relative to "the cursor's current duplicate" (spec.md §4.5)
// — are rejected outright rather than silently degrading to append.
func TestInsertRejectsPositionalDuplicateFlagsWithoutCursor(t *testing.T) {
	_, db := openTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("r1"), ridgekv.Duplicate))

	err := db.Insert(nil, []byte("k1"), []byte("r2"), ridgekv.DuplicateInsertAfter)
	require.ErrorIs(t, err, ridgekv.ErrInvalidParameter)

	err = db.Insert(nil, []byte("k1"), []byte("r2"), ridgekv.DuplicateInsertBefore)
	require.ErrorIs(t, err, ridgekv.ErrInvalidParameter)
}

// Cursor.Insert resolves DuplicateInsertBefore/After against the
// cursor's own current duplicate and splices the new record into that
// exact position in the on-disk duplicate list, instead of appending
// it at the end (spec.md §4.5).
func TestCursorPositionalDuplicateInsert(t *testing.T) {
	_, db := openTestDB(t)

	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("d0"), ridgekv.Duplicate))
	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("d1"), ridgekv.Duplicate))
	require.NoError(t, db.Insert(nil, []byte("k1"), []byte("d2"), ridgekv.Duplicate))

	cur := db.CursorCreate(nil)
	_, _, err := cur.Find([]byte("k1"), ridgekv.FindExact)
	require.NoError(t, err)
	_, _, err = cur.Move(ridgekv.MoveNext) // now positioned on "d1"
	require.NoError(t, err)

	require.NoError(t, cur.Insert([]byte("d1.5"), ridgekv.DuplicateInsertAfter))

	readAll := func() []string {
		c := db.CursorCreate(nil)
		var got []string
		_, v, err := c.Find([]byte("k1"), ridgekv.FindExact)
		require.NoError(t, err)
		got = append(got, string(v))
		for i := 1; i < c.DuplicateCount(); i++ {
			_, vv, err := c.Move(ridgekv.MoveNext)
			require.NoError(t, err)
			got = append(got, string(vv))
		}
		return got
	}
	require.Equal(t, []string{"d0", "d1", "d1.5", "d2"}, readAll())

	cur2 := db.CursorCreate(nil)
	_, _, err = cur2.Find([]byte("k1"), ridgekv.FindExact)
	require.NoError(t, err)
	require.NoError(t, cur2.Insert([]byte("d-1"), ridgekv.DuplicateInsertBefore))
	require.Equal(t, []string{"d-1", "d0", "d1", "d1.5", "d2"}, readAll())
}
