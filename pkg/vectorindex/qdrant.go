package vectorindex

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/docker/contex/pkg/node"
)

// QdrantIndex is the optional ANN-backed Vector Index, grounded on
// WessleyAI-wessley-mvp's engine/semantic.VectorStore: one collection per
// project (so a project's corpus can be dropped independently), points
// addressed by a deterministic UUID derived from node_key so re-publishing
// the same node always maps to the same point.
//
// Replacement-by-prefix is sequential here (delete-by-filter then insert)
// rather than the SQLiteIndex's single-transaction atomic swap: Qdrant's
// gRPC API has no cross-request transaction, so a reader can in principle
// observe the brief window between the delete and the insert. Deployments
// needing the strict I2 guarantee under concurrent reads should use the
// default SQLite backend; Qdrant is offered for ANN scale, not for the
// tightest consistency window.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

func OpenQdrant(addr string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// collectionName namespaces a project into its own Qdrant collection;
// Qdrant collection names disallow some characters a project id might
// contain, so the name is the first 16 characters of the unpadded
// base64url encoding of the project's SHA-1 rather than the id verbatim.
func collectionName(project string) string {
	sum := sha1.Sum([]byte(project))
	return "contex_" + base64.RawURLEncoding.EncodeToString(sum[:])[:16]
}

// pointID derives a stable UUID for (project, node_key) so repeated
// publishes of the same node land on the same Qdrant point instead of
// accumulating duplicates.
func pointID(project, nodeKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(project+"\x00"+nodeKey)).String()
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, project string, dims int) error {
	name := collectionName(project)
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorindex: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: create collection %s: %w", name, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, project, dataKey string, records []Record) error {
	dims := 0
	if len(records) > 0 {
		dims = len(records[0].Vector)
	}
	if dims == 0 {
		dims = 384 // matches embedding.Dim; avoided importing pkg/embedding to keep this backend dependency-light
	}
	if err := q.ensureCollection(ctx, project, dims); err != nil {
		return err
	}
	name := collectionName(project)

	if err := q.deleteByDataKey(ctx, name, dataKey); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(project, r.NodeKey)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}},
			},
			Payload: recordToPayload(r),
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorindex: qdrant upsert: %w", err)
	}
	return nil
}

func (q *QdrantIndex) deleteByDataKey(ctx context.Context, collection, dataKey string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("data_key", dataKey)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: qdrant delete by data_key %s: %w", dataKey, err)
	}
	return nil
}

func (q *QdrantIndex) KNN(ctx context.Context, project string, query []float32, k int) ([]Match, error) {
	name := collectionName(project)
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: qdrant search: %w", err)
	}

	out := make([]Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		rec := payloadToRecord(project, r.GetPayload())
		out = append(out, Match{NodeKey: rec.NodeKey, Similarity: float64(r.GetScore()), Record: rec})
	}
	return out, nil
}

func (q *QdrantIndex) Get(ctx context.Context, project, nodeKey string) (Record, bool, error) {
	name := collectionName(project)
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: name,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(project, nodeKey)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("vectorindex: qdrant get %s: %w", nodeKey, err)
	}
	if len(resp.GetResult()) == 0 {
		return Record{}, false, nil
	}

	p := resp.GetResult()[0]
	rec := payloadToRecord(project, p.GetPayload())
	if vecs := p.GetVectors(); vecs != nil {
		if v := vecs.GetVector(); v != nil {
			rec.Vector = v.GetData()
		}
	}
	return rec, true, nil
}

// ListDataKeys scrolls the project's collection, collecting distinct
// data_key payload values. Bounded at one page of up to 10000 points:
// this router's per-project corpora are small (§4.5 design note), so a
// single scroll page is expected to cover real deployments.
func (q *QdrantIndex) ListDataKeys(ctx context.Context, project string) ([]string, error) {
	name := collectionName(project)
	limit := uint32(10000)
	resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: name,
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: qdrant scroll: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, p := range resp.GetResult() {
		dataKey := p.GetPayload()["data_key"].GetStringValue()
		if dataKey == "" {
			continue
		}
		if _, ok := seen[dataKey]; ok {
			continue
		}
		seen[dataKey] = struct{}{}
		out = append(out, dataKey)
	}
	return out, nil
}

func (q *QdrantIndex) Clear(ctx context.Context, project string) error {
	name := collectionName(project)
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return fmt.Errorf("vectorindex: qdrant delete collection %s: %w", name, err)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func recordToPayload(r Record) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	return map[string]*pb.Value{
		"project":          str(r.Project),
		"data_key":         str(r.DataKey),
		"node_key":         str(r.NodeKey),
		"node_path":        str(r.NodePath),
		"node_type":        str(string(r.NodeType)),
		"description":      str(r.Description),
		"content":          str(r.Content),
		"original_payload": str(base64.StdEncoding.EncodeToString(r.OriginalPayload)),
		"data_format":      str(r.DataFormat),
	}
}

func payloadToRecord(project string, payload map[string]*pb.Value) Record {
	get := func(k string) string { return payload[k].GetStringValue() }
	original, _ := base64.StdEncoding.DecodeString(get("original_payload"))
	return Record{
		Project:         project,
		DataKey:         get("data_key"),
		NodeKey:         get("node_key"),
		NodePath:        get("node_path"),
		NodeType:        node.Type(get("node_type")),
		Description:     get("description"),
		Content:         get("content"),
		OriginalPayload: original,
		DataFormat:      get("data_format"),
	}
}
