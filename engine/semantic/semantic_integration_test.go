//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) *VectorStore {
	t.Helper()
	vs, err := New(qdrantAddr(), collection)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		vs.DeleteCollection(context.Background())
		vs.Close()
	})
	return vs
}

func TestQdrant_EnsureCollection(t *testing.T) {
	vs := testStore(t, "test_ensure")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	// Calling again should be idempotent
	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection (idempotent): %v", err)
	}
}

func TestQdrant_UpsertAndSearch(t *testing.T) {
	vs := testStore(t, "test_upsert_search")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	records := []VectorRecord{
		{ID: "a1111111-1111-1111-1111-111111111111", Embedding: []float32{1, 0, 0, 0}, Payload: map[string]any{"answer": "apply online", "answer_id": "1", "is_visible": true}},
		{ID: "b2222222-2222-2222-2222-222222222222", Embedding: []float32{0, 1, 0, 0}, Payload: map[string]any{"answer": "dorm costs 900", "answer_id": "2", "is_visible": true}},
		{ID: "c3333333-3333-3333-3333-333333333333", Embedding: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{"answer": "deadline is july", "answer_id": "3", "is_visible": true}},
	}

	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Search near [1,0,0,0] should return "apply online" first.
	results, err := vs.Search(ctx, []float32{1, 0, 0, 0}, 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Answer != "apply online" {
		t.Fatalf("expected 'apply online' first, got %q", results[0].Answer)
	}

	// A tight threshold keeps only the exact match.
	near, err := vs.Search(ctx, []float32{1, 0, 0, 0}, 3, 0.95)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(near) != 1 || near[0].AnswerID != "1" {
		t.Fatalf("expected only the exact match, got %+v", near)
	}
}

func TestQdrant_VisibilityFilter(t *testing.T) {
	vs := testStore(t, "test_visibility")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	records := []VectorRecord{
		{ID: "f1111111-1111-1111-1111-111111111111", Embedding: []float32{1, 0, 0, 0}, Payload: map[string]any{"answer": "visible", "answer_id": "1", "is_visible": true}},
		{ID: "f2222222-2222-2222-2222-222222222222", Embedding: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{"answer": "hidden", "answer_id": "2", "is_visible": false}},
	}
	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := vs.Search(ctx, []float32{1, 0, 0, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.AnswerID == "2" {
			t.Fatal("hidden answer leaked through visibility filter")
		}
	}
}

func TestQdrant_CountAndHealth(t *testing.T) {
	vs := testStore(t, "test_count")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := vs.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	records := []VectorRecord{
		{ID: "a1111111-1111-1111-1111-111111111111", Embedding: []float32{1, 0, 0, 0}, Payload: map[string]any{"answer": "a", "is_visible": true}},
		{ID: "b2222222-2222-2222-2222-222222222222", Embedding: []float32{0, 1, 0, 0}, Payload: map[string]any{"answer": "b", "is_visible": true}},
	}
	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := vs.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 points, got %d", n)
	}

	// Re-upserting the same ids must not grow the collection.
	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	n, err = vs.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("idempotent upsert grew collection to %d", n)
	}
}
