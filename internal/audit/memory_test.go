package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_QueryOrdersAndFilters(t *testing.T) {
	store := NewMemoryStore(0)
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	write := func(offset time.Duration, entity, id, actor string) {
		ts := base.Add(offset)
		require.NoError(t, store.Write(&Record{ID: NewID(ts), Timestamp: ts, EntityName: entity, EntityID: id, ActorID: actor}))
	}
	write(3*time.Minute, "Car", "1", "bob")
	write(time.Minute, "Car", "1", "alice")
	write(2*time.Minute, "Reservation", "5", "alice")

	records, err := store.Query(context.Background(), Query{EntityName: "Car", EntityID: "1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].ActorID)
	assert.Equal(t, "bob", records[1].ActorID)

	records, err = store.Query(context.Background(), Query{ActorID: "alice", From: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Reservation", records[0].EntityName)

	records, err = store.Query(context.Background(), Query{To: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = store.Query(context.Background(), Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestMemoryStore_Capacity(t *testing.T) {
	store := NewMemoryStore(3)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, store.Write(&Record{EntityID: id}))
	}
	require.NoError(t, store.Write(nil))

	assert.Equal(t, 3, store.Len())
	all := store.All()
	assert.Equal(t, "3", all[0].EntityID)
	assert.Equal(t, "5", all[2].EntityID)
}

func TestQuery_Normalize(t *testing.T) {
	assert.Equal(t, DefaultQueryLimit, Query{}.Normalize().Limit)
	assert.Equal(t, MaxQueryLimit, Query{Limit: 5000}.Normalize().Limit)
	assert.Equal(t, 7, Query{Limit: 7}.Normalize().Limit)
}

func TestRequestContext(t *testing.T) {
	_, ok := RequestFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithRequest(context.Background(), RequestInfo{Method: "GET", SessionID: "s"})
	info, ok := RequestFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s", info.SessionID)
}

func TestNewID_SortsByTime(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewID(t0)
	b := NewID(t0)
	c := NewID(t0.Add(time.Millisecond))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}
