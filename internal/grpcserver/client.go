package grpcserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"pixgrid/internal/pattern"
)

// Client calls a remote GridService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// PatternCall are the parameters of a remote analysis.
type PatternCall struct {
	Image     []byte
	Filename  string
	Cols      int
	Rows      int
	Threshold *int
	Auto      bool
	Mode      string
}

// PatternReply is the remote grid and its summary.
type PatternReply struct {
	Grid    *pattern.Grid
	Summary pattern.Summary
}

// AnalyzePattern runs pattern analysis remotely.
func (c *Client) AnalyzePattern(ctx context.Context, call PatternCall) (PatternReply, error) {
	fields := map[string]any{
		"image":    base64.StdEncoding.EncodeToString(call.Image),
		"filename": call.Filename,
		"cols":     call.Cols,
		"rows":     call.Rows,
		"auto":     call.Auto,
		"mode":     call.Mode,
	}
	if call.Threshold != nil {
		fields["threshold"] = *call.Threshold
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return PatternReply{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodAnalyzePattern, in, out); err != nil {
		return PatternReply{}, err
	}

	m := out.AsMap()
	data, err := json.Marshal(map[string]any{"grid": m["grid"]})
	if err != nil {
		return PatternReply{}, err
	}
	g, err := pattern.Decode(bytes.NewReader(data))
	if err != nil {
		return PatternReply{}, fmt.Errorf("remote pattern: %w", err)
	}
	var reply PatternReply
	reply.Grid = g
	if raw, err := json.Marshal(m["summary"]); err == nil {
		_ = json.Unmarshal(raw, &reply.Summary)
	}
	reply.Grid.Threshold = reply.Summary.Threshold
	return reply, nil
}

// TilesCall are the parameters of a remote split.
type TilesCall struct {
	Image    []byte
	Filename string
	Cols     int
	Rows     int
}

// TilesReply carries the zip archive.
type TilesReply struct {
	Archive  []byte
	Filename string
	Tiles    int
}

// SplitTiles runs tiling remotely.
func (c *Client) SplitTiles(ctx context.Context, call TilesCall) (TilesReply, error) {
	in, err := structpb.NewStruct(map[string]any{
		"image":    base64.StdEncoding.EncodeToString(call.Image),
		"filename": call.Filename,
		"cols":     call.Cols,
		"rows":     call.Rows,
	})
	if err != nil {
		return TilesReply{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodSplitTiles, in, out); err != nil {
		return TilesReply{}, err
	}
	archive, err := base64.StdEncoding.DecodeString(stringField(out, "archive"))
	if err != nil {
		return TilesReply{}, fmt.Errorf("remote archive: %w", err)
	}
	return TilesReply{
		Archive:  archive,
		Filename: stringField(out, "filename"),
		Tiles:    intField(out, "tiles", 0),
	}, nil
}

// Healthy reports whether the remote GridService is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
