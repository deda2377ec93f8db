package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// ---------------------------------------------------------------------------
// test fixtures
// ---------------------------------------------------------------------------

func seededMemory(t *testing.T, collection string, docs ...map[string]any) *Memory {
	t.Helper()
	m := NewMemory(zap.NewNop())
	for _, doc := range docs {
		_, err := m.Insert(context.Background(), collection, doc)
		require.NoError(t, err)
	}
	return m
}

func siparisler() []map[string]any {
	return []map[string]any{
		{"_id": "s1", "musteri": "Ayşe", "tutar": 120.0, "durum": "hazir", "adres": map[string]any{"sehir": "İzmir"}},
		{"_id": "s2", "musteri": "Mehmet", "tutar": 45.5, "durum": "beklemede", "adres": map[string]any{"sehir": "Ankara"}},
		{"_id": "s3", "musteri": "Ayşe", "tutar": 300.0, "durum": "hazir"},
	}
}

func findIDs(t *testing.T, m *Memory, collection string, filter map[string]any) []string {
	t.Helper()
	docs, err := m.Find(context.Background(), collection, filter, []SortField{{Field: "_id"}}, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc["_id"].(string))
	}
	return ids
}

// ---------------------------------------------------------------------------
// insert and find
// ---------------------------------------------------------------------------

func TestMemory_InsertAssignsID(t *testing.T) {
	t.Parallel()

	m := NewMemory(zap.NewNop())
	id, err := m.Insert(context.Background(), "notlar", map[string]any{"metin": "süt al"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	docs, err := m.Find(context.Background(), "notlar", map[string]any{"_id": id}, nil, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "süt al", docs[0]["metin"])
}

func TestMemory_InsertCopiesDocument(t *testing.T) {
	t.Parallel()

	m := NewMemory(zap.NewNop())
	doc := map[string]any{"_id": "n1", "etiketler": []any{"ev"}}
	_, err := m.Insert(context.Background(), "notlar", doc)
	require.NoError(t, err)

	doc["etiketler"].([]any)[0] = "bozuldu"

	stored, err := m.Find(context.Background(), "notlar", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []any{"ev"}, stored[0]["etiketler"])

	stored[0]["metin"] = "okuyan yazamaz"
	again, err := m.Find(context.Background(), "notlar", nil, nil, 0)
	require.NoError(t, err)
	assert.NotContains(t, again[0], "metin")
}

func TestMemory_FindFilters(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	cases := []struct {
		name   string
		filter map[string]any
		want   []string
	}{
		{"empty filter matches all", map[string]any{}, []string{"s1", "s2", "s3"}},
		{"equality", map[string]any{"musteri": "Ayşe"}, []string{"s1", "s3"}},
		{"dotted path", map[string]any{"adres.sehir": "Ankara"}, []string{"s2"}},
		{"numeric equality across types", map[string]any{"tutar": 120}, []string{"s1"}},
		{"gt", map[string]any{"tutar": map[string]any{"$gt": 100}}, []string{"s1", "s3"}},
		{"gte boundary", map[string]any{"tutar": map[string]any{"$gte": 120}}, []string{"s1", "s3"}},
		{"lt", map[string]any{"tutar": map[string]any{"$lt": 46}}, []string{"s2"}},
		{"range", map[string]any{"tutar": map[string]any{"$gte": 100, "$lte": 200}}, []string{"s1"}},
		{"in", map[string]any{"durum": map[string]any{"$in": []any{"beklemede", "iptal"}}}, []string{"s2"}},
		{"nin", map[string]any{"durum": map[string]any{"$nin": []any{"hazir"}}}, []string{"s2"}},
		{"ne matches missing field", map[string]any{"adres.sehir": map[string]any{"$ne": "İzmir"}}, []string{"s2", "s3"}},
		{"exists true", map[string]any{"adres": map[string]any{"$exists": true}}, []string{"s1", "s2"}},
		{"exists false", map[string]any{"adres": map[string]any{"$exists": false}}, []string{"s3"}},
		{"regex", map[string]any{"musteri": map[string]any{"$regex": "^Meh"}}, []string{"s2"}},
		{"regex case-insensitive", map[string]any{"durum": map[string]any{"$regex": "^HAZIR$", "$options": "i"}}, []string{"s1", "s3"}},
		{"regex stays anchored", map[string]any{"durum": map[string]any{"$regex": "^azir"}}, []string{}},
		{"no match", map[string]any{"musteri": "Zeynep"}, []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, findIDs(t, m, "siparisler", tc.filter))
		})
	}
}

func TestMemory_FindNilMatchesMissing(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "kayitlar",
		map[string]any{"_id": "k1", "silinme": nil},
		map[string]any{"_id": "k2"},
		map[string]any{"_id": "k3", "silinme": "2026-01-01"},
	)

	assert.Equal(t, []string{"k1", "k2"}, findIDs(t, m, "kayitlar", map[string]any{"silinme": nil}))
}

func TestMemory_FindSortAndLimit(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	docs, err := m.Find(context.Background(), "siparisler", nil,
		[]SortField{{Field: "tutar", Desc: true}}, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "s3", docs[0]["_id"])
	assert.Equal(t, "s1", docs[1]["_id"])
}

func TestMemory_FindUnsupportedOperator(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	_, err := m.Find(context.Background(), "siparisler",
		map[string]any{"tutar": map[string]any{"$where": "1"}}, nil, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetCode(err))

	_, err = m.Find(context.Background(), "siparisler",
		map[string]any{"musteri": map[string]any{"$regex": "(acik"}}, nil, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetCode(err))
}

func TestMemory_FindUnknownCollectionIsEmpty(t *testing.T) {
	t.Parallel()

	m := NewMemory(zap.NewNop())
	docs, err := m.Find(context.Background(), "yok", nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// ---------------------------------------------------------------------------
// update
// ---------------------------------------------------------------------------

func TestMemory_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := seededMemory(t, "siparisler", siparisler()...)

	matched, modified, err := m.Update(ctx, "siparisler",
		map[string]any{"_id": "s2"},
		map[string]any{"$set": map[string]any{"durum": "kargoda", "adres.sehir": "Bursa"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)
	assert.Equal(t, int64(1), modified)

	docs, err := m.Find(ctx, "siparisler", map[string]any{"_id": "s2"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "kargoda", docs[0]["durum"])
	assert.Equal(t, "Bursa", docs[0]["adres"].(map[string]any)["sehir"])
}

func TestMemory_UpdateSameValueNotModified(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	matched, modified, err := m.Update(context.Background(), "siparisler",
		map[string]any{"_id": "s1"},
		map[string]any{"$set": map[string]any{"durum": "hazir"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)
	assert.Equal(t, int64(0), modified)
}

func TestMemory_UpdateFirstMatchOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := seededMemory(t, "siparisler", siparisler()...)

	matched, _, err := m.Update(ctx, "siparisler",
		map[string]any{"musteri": "Ayşe"},
		map[string]any{"$set": map[string]any{"durum": "iptal"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	n, err := m.Count(ctx, "siparisler", map[string]any{"durum": "iptal"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_UpdateIncAndUnset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := seededMemory(t, "sayaclar", map[string]any{"_id": "c1", "deger": 3})

	_, modified, err := m.Update(ctx, "sayaclar",
		map[string]any{"_id": "c1"},
		map[string]any{"$inc": map[string]any{"deger": 2, "yeni": 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	_, _, err = m.Update(ctx, "sayaclar",
		map[string]any{"_id": "c1"},
		map[string]any{"$unset": map[string]any{"yeni": ""}})
	require.NoError(t, err)

	docs, err := m.Find(ctx, "sayaclar", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 5.0, docs[0]["deger"])
	assert.NotContains(t, docs[0], "yeni")
}

func TestMemory_UpdateUnsupportedOperator(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	_, _, err := m.Update(context.Background(), "siparisler",
		map[string]any{"_id": "s1"},
		map[string]any{"$push": map[string]any{"etiketler": "acil"}})
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetCode(err))
}

func TestMemory_UpdateNoMatch(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	matched, modified, err := m.Update(context.Background(), "siparisler",
		map[string]any{"_id": "yok"},
		map[string]any{"$set": map[string]any{"durum": "iptal"}})
	require.NoError(t, err)
	assert.Zero(t, matched)
	assert.Zero(t, modified)
}

// ---------------------------------------------------------------------------
// delete and count
// ---------------------------------------------------------------------------

func TestMemory_DeleteFirstMatchOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := seededMemory(t, "siparisler", siparisler()...)

	deleted, err := m.Delete(ctx, "siparisler", map[string]any{"musteri": "Ayşe"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.Equal(t, []string{"s2", "s3"}, findIDs(t, m, "siparisler", nil))

	deleted, err = m.Delete(ctx, "siparisler", map[string]any{"musteri": "Zeynep"})
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMemory_Count(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	n, err := m.Count(context.Background(), "siparisler", map[string]any{"durum": "hazir"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// ---------------------------------------------------------------------------
// aggregation
// ---------------------------------------------------------------------------

func TestMemory_AggregateMatchSortLimit(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	results, err := m.Aggregate(context.Background(), "siparisler", []map[string]any{
		{"$match": map[string]any{"durum": "hazir"}},
		{"$sort": map[string]any{"tutar": -1}},
		{"$limit": 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s3", results[0]["_id"])
}

func TestMemory_AggregateGroup(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	results, err := m.Aggregate(context.Background(), "siparisler", []map[string]any{
		{"$sort": map[string]any{"_id": 1}},
		{"$group": map[string]any{
			"_id":      "$musteri",
			"toplam":   map[string]any{"$sum": "$tutar"},
			"adet":     map[string]any{"$sum": 1},
			"ortalama": map[string]any{"$avg": "$tutar"},
			"enYuksek": map[string]any{"$max": "$tutar"},
			"ilkDurum": map[string]any{"$first": "$durum"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Ayşe", results[0]["_id"])
	assert.Equal(t, 420.0, results[0]["toplam"])
	assert.Equal(t, 2.0, results[0]["adet"])
	assert.Equal(t, 210.0, results[0]["ortalama"])
	assert.Equal(t, 300.0, results[0]["enYuksek"])
	assert.Equal(t, "hazir", results[0]["ilkDurum"])

	assert.Equal(t, "Mehmet", results[1]["_id"])
	assert.Equal(t, 45.5, results[1]["toplam"])
}

func TestMemory_AggregateCount(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	results, err := m.Aggregate(context.Background(), "siparisler", []map[string]any{
		{"$match": map[string]any{"musteri": "Ayşe"}},
		{"$count": "toplam"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, map[string]any{"toplam": 2}, results[0])
}

func TestMemory_AggregateProject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := seededMemory(t, "siparisler", siparisler()...)

	results, err := m.Aggregate(ctx, "siparisler", []map[string]any{
		{"$match": map[string]any{"_id": "s1"}},
		{"$project": map[string]any{"musteri": 1, "tutar": 1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, map[string]any{"_id": "s1", "musteri": "Ayşe", "tutar": 120.0}, results[0])

	results, err = m.Aggregate(ctx, "siparisler", []map[string]any{
		{"$match": map[string]any{"_id": "s1"}},
		{"$project": map[string]any{"adres": 0, "_id": 0}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotContains(t, results[0], "adres")
	assert.NotContains(t, results[0], "_id")
	assert.Equal(t, "Ayşe", results[0]["musteri"])

	_, err = m.Aggregate(ctx, "siparisler", []map[string]any{
		{"$project": map[string]any{"musteri": 1, "adres": 0}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetCode(err))
}

func TestMemory_AggregateSkip(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	results, err := m.Aggregate(context.Background(), "siparisler", []map[string]any{
		{"$sort": map[string]any{"_id": 1}},
		{"$skip": 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s3", results[0]["_id"])
}

func TestMemory_AggregateUnsupportedStage(t *testing.T) {
	t.Parallel()

	m := seededMemory(t, "siparisler", siparisler()...)

	_, err := m.Aggregate(context.Background(), "siparisler", []map[string]any{
		{"$lookup": map[string]any{"from": "musteriler"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetCode(err))
	assert.Contains(t, err.Error(), "$lookup")
}

// ---------------------------------------------------------------------------
// collections and stats
// ---------------------------------------------------------------------------

func TestMemory_EnsureCollection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(zap.NewNop())

	created, err := m.EnsureCollection(ctx, "musteriler", map[string]any{"bsonType": "object"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.EnsureCollection(ctx, "musteriler", nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemory_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := seededMemory(t, "siparisler", siparisler()...)

	stats, err := m.Stats(ctx, "siparisler")
	require.NoError(t, err)
	assert.Positive(t, stats.SizeBytes)
	assert.Positive(t, stats.AvgObjSize)

	_, err = m.Stats(ctx, "hicYok")
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetCode(err))
}
