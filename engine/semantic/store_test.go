package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertReqs []*pb.UpsertPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error

	searchReqs  []*pb.SearchPoints
	searchResps []*pb.SearchResponse // consumed in order; last one repeats
	searchErr   error

	countResp *pb.CountResponse
	countErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReqs = append(m.upsertReqs, in)
	return m.upsertResp, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReqs = append(m.searchReqs, in)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if len(m.searchResps) == 0 {
		return &pb.SearchResponse{}, nil
	}
	resp := m.searchResps[0]
	if len(m.searchResps) > 1 {
		m.searchResps = m.searchResps[1:]
	}
	return resp, nil
}

func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return m.countResp, m.countErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
	created    []*pb.CreateCollection
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

type mockHealth struct {
	err error
}

func (m *mockHealth) HealthCheck(_ context.Context, _ *pb.HealthCheckRequest, _ ...grpc.CallOption) (*pb.HealthCheckReply, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &pb.HealthCheckReply{Title: "qdrant"}, nil
}

func scoredPoint(id string, score float32, answer string) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
		Score: score,
		Payload: map[string]*pb.Value{
			"answer":     {Kind: &pb.Value_StringValue{StringValue: answer}},
			"answer_id":  {Kind: &pb.Value_StringValue{StringValue: "a-" + id}},
			"source":     {Kind: &pb.Value_StringValue{StringValue: "faq"}},
			"is_visible": {Kind: &pb.Value_BoolValue{BoolValue: true}},
			"extra":      {Kind: &pb.Value_StringValue{StringValue: "val"}},
		},
	}
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, &mockHealth{}, "test")
	if vs == nil {
		t.Fatal("expected non-nil")
	}
	if vs.Collection() != "test" {
		t.Fatalf("collection = %q", vs.Collection())
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "test"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, &mockHealth{}, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 0 {
		t.Fatal("existing collection must not be recreated")
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "other"}}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, &mockHealth{}, "test")
	if err := vs.EnsureCollection(context.Background(), 128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(cols.created))
	}
	params := cols.created[0].GetVectorsConfig().GetParams()
	if params.GetSize() != 128 {
		t.Errorf("size = %d, want 128", params.GetSize())
	}
	if params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("distance = %v, want cosine", params.GetDistance())
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, &mockHealth{}, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureCollection_CreateError(t *testing.T) {
	cols := &mockCollections{
		listResp:  &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createErr: errors.New("create fail"),
	}
	vs := NewWithClients(&mockPoints{}, cols, &mockHealth{}, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteCollection(t *testing.T) {
	cols := &mockCollections{deleteResp: &pb.CollectionOperationResponse{Result: true}}
	vs := NewWithClients(&mockPoints{}, cols, &mockHealth{}, "test")
	if err := vs.DeleteCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cols.deleteErr = errors.New("fail")
	if err := vs.DeleteCollection(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, &mockHealth{}, "test")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_PayloadKinds(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")

	records := []VectorRecord{
		{
			ID:        "11111111-1111-1111-1111-111111111111",
			Embedding: []float32{1, 0, 0, 0},
			Payload: map[string]any{
				"answer":     "submit the online form",
				"answer_id":  "42",
				"year":       2025,
				"rank":       int64(7),
				"weight":     0.5,
				"is_visible": true,
				"tags":       []int{1, 2}, // default case
			},
		},
	}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pts.upsertReqs) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(pts.upsertReqs))
	}
	req := pts.upsertReqs[0]
	if req.GetWait() != true {
		t.Error("upsert must wait for durability")
	}
	payload := req.GetPoints()[0].GetPayload()
	if payload["answer"].GetStringValue() != "submit the online form" {
		t.Error("answer payload mismatch")
	}
	if payload["year"].GetIntegerValue() != 2025 {
		t.Error("int payload mismatch")
	}
	if payload["is_visible"].GetBoolValue() != true {
		t.Error("bool payload mismatch")
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")

	records := []VectorRecord{{ID: "id1", Embedding: []float32{1, 0}}}
	if err := vs.Upsert(context.Background(), records); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_MapsPayload(t *testing.T) {
	pts := &mockPoints{
		searchResps: []*pb.SearchResponse{
			{Result: []*pb.ScoredPoint{scoredPoint("p1", 0.95, "bring your passport")}},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	results, err := vs.Search(context.Background(), []float32{1, 0}, 5, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1, got %d", len(results))
	}
	r := results[0]
	if r.ID != "p1" || r.Score != 0.95 {
		t.Error("wrong id/score")
	}
	if r.Answer != "bring your passport" {
		t.Errorf("wrong answer: %s", r.Answer)
	}
	if r.AnswerID != "a-p1" {
		t.Errorf("wrong answer_id: %s", r.AnswerID)
	}
	if r.Source != "faq" {
		t.Errorf("wrong source: %s", r.Source)
	}
	if r.Meta["extra"] != "val" {
		t.Errorf("wrong meta: %v", r.Meta)
	}
	if _, ok := r.Meta["is_visible"]; ok {
		t.Error("is_visible must not leak into meta")
	}
}

func TestSearch_SetsThresholdAndFilter(t *testing.T) {
	pts := &mockPoints{
		searchResps: []*pb.SearchResponse{
			{Result: []*pb.ScoredPoint{scoredPoint("p1", 0.9, "a")}},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	if _, err := vs.Search(context.Background(), []float32{1}, 7, 0.42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pts.searchReqs) != 1 {
		t.Fatalf("expected 1 search, got %d", len(pts.searchReqs))
	}
	req := pts.searchReqs[0]
	if req.GetLimit() != 7 {
		t.Errorf("limit = %d, want 7", req.GetLimit())
	}
	if req.GetScoreThreshold() != 0.42 {
		t.Errorf("threshold = %v, want 0.42", req.GetScoreThreshold())
	}
	if req.GetFilter() == nil {
		t.Error("first search must filter on visibility")
	}
}

func TestSearch_ZeroThresholdOmitsCutoff(t *testing.T) {
	pts := &mockPoints{
		searchResps: []*pb.SearchResponse{
			{Result: []*pb.ScoredPoint{scoredPoint("p1", 0.1, "a")}},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	if _, err := vs.Search(context.Background(), []float32{1}, 5, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReqs[0].ScoreThreshold != nil {
		t.Error("zero threshold must not set a cutoff")
	}
}

func TestSearch_RetriesUnfiltered(t *testing.T) {
	// Filtered search finds nothing; the unfiltered retry hits a legacy point.
	pts := &mockPoints{
		searchResps: []*pb.SearchResponse{
			{},
			{Result: []*pb.ScoredPoint{scoredPoint("legacy", 0.8, "old answer")}},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	results, err := vs.Search(context.Background(), []float32{1}, 5, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "legacy" {
		t.Fatalf("expected legacy hit, got %+v", results)
	}
	if len(pts.searchReqs) != 2 {
		t.Fatalf("expected 2 searches, got %d", len(pts.searchReqs))
	}
	if pts.searchReqs[0].GetFilter() == nil {
		t.Error("first search must be filtered")
	}
	if pts.searchReqs[1].GetFilter() != nil {
		t.Error("retry must be unfiltered")
	}
}

func TestSearch_EmptyIsNotError(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	results, err := vs.Search(context.Background(), []float32{1}, 5, 0.99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0, got %d", len(results))
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	if _, err := vs.Search(context.Background(), []float32{1}, 5, 0.3); err == nil {
		t.Fatal("expected error")
	}
}

func TestCount(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 321}}}
	vs := NewWithClients(pts, &mockCollections{}, &mockHealth{}, "test")
	n, err := vs.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 321 {
		t.Errorf("count = %d, want 321", n)
	}

	pts.countErr = errors.New("fail")
	if _, err := vs.Count(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestHealth(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, &mockHealth{}, "test")
	if err := vs.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	down := NewWithClients(&mockPoints{}, &mockCollections{}, &mockHealth{err: errors.New("connection refused")}, "test")
	if err := down.Health(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBoolMatch(t *testing.T) {
	cond := boolMatch("is_visible", true)
	fc := cond.GetField()
	if fc.Key != "is_visible" {
		t.Fatalf("expected is_visible, got %s", fc.Key)
	}
	if fc.Match.GetBoolean() != true {
		t.Fatal("expected boolean true match")
	}
}
