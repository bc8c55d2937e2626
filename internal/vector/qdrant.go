package vector

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	payloadPath        = "path"
	payloadFingerprint = "fingerprint"
	scrollPageSize     = 256
)

// QdrantOptions holds connection settings for a Qdrant server.
type QdrantOptions struct {
	Host   string
	Port   int
	APIKey string // enables TLS
	UseTLS bool
}

// QdrantCollection stores entries as points of a Qdrant collection using cosine distance.
// Point ids are UUIDv5 of the entry id; the entry id itself lives in the payload.
type QdrantCollection struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	name        string
	dimensions  int
	ensured     bool
	mu          sync.Mutex
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// OpenQdrantCollection connects to Qdrant. The collection is created on first
// upsert if it does not exist; dimensions may be 0 until then.
func OpenQdrantCollection(opts QdrantOptions, name string, dimensions int) (*QdrantCollection, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	var dialOpts []grpc.DialOption
	if opts.UseTLS || opts.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
		if opts.APIKey != "" {
			dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
		}
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	c := newQdrantCollection(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), name, dimensions)
	c.conn = conn
	return c, nil
}

// newQdrantCollection wires a collection to existing clients. collections may
// be nil when the collection is managed elsewhere.
func newQdrantCollection(points pb.PointsClient, collections pb.CollectionsClient, name string, dimensions int) *QdrantCollection {
	return &QdrantCollection{
		points:      points,
		collections: collections,
		name:        name,
		dimensions:  dimensions,
	}
}

// PointID returns the Qdrant point id for an entry id.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func pointIDs(ids []string) []*pb.PointId {
	out := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		out[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}
	return out
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (c *QdrantCollection) Name() string { return c.name }

// ensureCollection creates the collection with dims if it does not exist.
func (c *QdrantCollection) ensureCollection(ctx context.Context, dims int) error {
	if c.ensured || c.collections == nil {
		c.ensured = true
		return nil
	}
	info, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: c.name})
	if err == nil {
		if size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size > 0 && int(size) != dims {
			return fmt.Errorf("%w: qdrant collection %s has %d, expected %d", ErrDimensionMismatch, c.name, size, dims)
		}
		c.ensured = true
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.name,
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
		return fmt.Errorf("failed to create qdrant collection %s: %w", c.name, err)
	}
	c.ensured = true
	return nil
}

// Get fetches points by id; absent ids are omitted.
func (c *QdrantCollection) Get(ctx context.Context, ids []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	resp, err := c.points.Get(ctx, &pb.GetPoints{
		CollectionName: c.name,
		Ids:            pointIDs(ids),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		if isNotFound(err) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to get points: %w", err)
	}
	for _, p := range resp.GetResult() {
		id, md := parsePayload(p.GetPayload())
		if id == "" {
			continue
		}
		out[id] = Entry{Embedding: p.GetVectors().GetVector().GetData(), Metadata: md}
	}
	return out, nil
}

// Upsert writes points and waits for the operation to be applied.
func (c *QdrantCollection) Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []Metadata) error {
	if err := validateUpsert(ids, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dims, err := checkDimensions(c.dimensions, embeddings)
	if err != nil {
		return err
	}
	if err := c.ensureCollection(ctx, dims); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(ids))
	for i, id := range ids {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: embeddings[i]}},
			},
			Payload: buildPayload(id, metadataAt(metadatas, i)),
		}
	}
	wait := true
	if _, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	c.dimensions = dims
	return nil
}

// Delete removes points by id. Qdrant ignores ids that do not exist.
func (c *QdrantCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	wait := true
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs(ids)},
			},
		},
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Query searches by cosine similarity and converts scores to distances.
func (c *QdrantCollection) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	c.mu.Lock()
	dims := c.dimensions
	c.mu.Unlock()
	if dims != 0 && len(embedding) != dims {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(embedding), dims)
	}
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.name,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if isNotFound(err) {
			return []Match{}, nil
		}
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	matches := make([]Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		id, _ := parsePayload(p.GetPayload())
		if id == "" {
			continue
		}
		matches = append(matches, Match{ID: id, Distance: 1 - float64(p.GetScore())})
	}
	return topK(matches, k), nil
}

// IDs scrolls the whole collection.
func (c *QdrantCollection) IDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	limit := uint32(scrollPageSize)
	var offset *pb.PointId
	for {
		resp, err := c.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: c.name,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			if isNotFound(err) {
				return ids, nil
			}
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}
		for _, p := range resp.GetResult() {
			if id, _ := parsePayload(p.GetPayload()); id != "" {
				ids = append(ids, id)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *QdrantCollection) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := c.points.Count(ctx, &pb.CountPoints{CollectionName: c.name, Exact: &exact})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (c *QdrantCollection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func buildPayload(id string, md Metadata) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		payloadPath: {Kind: &pb.Value_StringValue{StringValue: id}},
	}
	if md.HasFingerprint {
		payload[payloadFingerprint] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: md.Fingerprint}}
	}
	return payload
}

func parsePayload(payload map[string]*pb.Value) (string, Metadata) {
	var md Metadata
	if payload == nil {
		return "", md
	}
	id := payload[payloadPath].GetStringValue()
	if v, ok := payload[payloadFingerprint]; ok {
		md = WithFingerprint(v.GetIntegerValue())
	}
	return id, md
}
