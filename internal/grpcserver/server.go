package grpcserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pixgrid/internal/config"
	"pixgrid/internal/grid"
	"pixgrid/internal/pattern"
	"pixgrid/internal/raster"
	"pixgrid/internal/tiles"
)

// Server implements GridServiceServer on top of the pattern and tiles packages.
type Server struct {
	cfg    *config.Config
	log    *slog.Logger
	health *health.Server
}

// New creates a Server.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Server{cfg: cfg, log: logger, health: health.NewServer()}
}

// NewGRPCServer builds a grpc.Server with the grid and health services registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	maxBytes := maxMessageBytes(s.cfg)
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.logInterceptor),
		grpc.MaxRecvMsgSize(maxBytes),
		grpc.MaxSendMsgSize(maxBytes),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterGridServiceServer(gs, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	opts, err := ServerOptions(s.cfg)
	if err != nil {
		lis.Close()
		return err
	}
	gs := s.NewGRPCServer(opts...)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		gs.GracefulStop()
	}()
	s.log.Info("grpc server starting", "addr", addr, "tls", s.cfg.Server.TLS.CertPath != "")
	return gs.Serve(lis)
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("grpc call failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	} else {
		s.log.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

// AnalyzePattern expects {image (base64), cols, rows, threshold?, mode?, auto?}
// and returns {grid, summary}.
func (s *Server) AnalyzePattern(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	img, err := imageField(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	pc := s.cfg.Pattern
	spec := grid.Spec{Cols: intField(req, "cols", pc.Cols), Rows: intField(req, "rows", pc.Rows)}
	auto := boolField(req, "auto")
	if _, ok := req.GetFields()["threshold"]; ok {
		spec = spec.WithThreshold(intField(req, "threshold", pc.Threshold))
	} else if !auto {
		spec = spec.WithThreshold(pc.Threshold)
	}
	if err := spec.Validate(grid.Limits{MaxCols: pc.MaxCols, MaxRows: pc.MaxRows}); err != nil {
		return nil, toStatus(err)
	}
	modeName := stringField(req, "mode")
	if modeName == "" {
		modeName = pc.Mode
	}
	mode, err := pattern.ParseMode(modeName)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	compute := pattern.Compute
	if auto {
		compute = pattern.ComputeAuto
	}
	g, err := compute(ctx, img, spec, mode)
	if err != nil {
		return nil, toStatus(err)
	}

	wire, err := toMap(g)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	summary, err := toMap(pattern.Summarize(g))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(map[string]any{"grid": wire["grid"], "summary": summary})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// SplitTiles expects {image (base64), filename?, cols, rows} and returns
// {archive (base64), filename, tiles, manifest}.
func (s *Server) SplitTiles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	img, err := imageField(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	tc := s.cfg.Tiling
	spec := grid.Spec{Cols: intField(req, "cols", tc.Cols), Rows: intField(req, "rows", tc.Rows)}
	if err := spec.Validate(grid.Limits{MaxCols: tc.MaxCols, MaxRows: tc.MaxRows}); err != nil {
		return nil, toStatus(err)
	}

	base := tiles.BaseName(stringField(req, "filename"))
	batch, err := tiles.Crop(ctx, img, spec, base)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := tiles.Encode(ctx, batch, 0); err != nil {
		return nil, toStatus(err)
	}
	var buf bytes.Buffer
	if err := tiles.WriteZip(&buf, base, batch); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	manifest, err := toMap(tiles.BuildManifest(base, batch))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(map[string]any{
		"archive":  base64.StdEncoding.EncodeToString(buf.Bytes()),
		"filename": tiles.ArchiveName(base),
		"tiles":    len(batch),
		"manifest": manifest,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func imageField(ctx context.Context, req *structpb.Struct) (*raster.Image, error) {
	encoded := stringField(req, "image")
	if encoded == "" {
		return nil, status.Error(codes.InvalidArgument, "image is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "image is not base64: %v", err)
	}
	return raster.Decode(ctx, bytes.NewReader(data), stringField(req, "filename"))
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var de *raster.DecodeError
	var se *grid.SpecError
	var dg *grid.DegenerateGridError
	switch {
	case errors.As(err, &de), errors.As(err, &se):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &dg):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

func intField(s *structpb.Struct, key string, def int) int {
	v, ok := s.GetFields()[key]
	if !ok {
		return def
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return def
	}
	return int(v.GetNumberValue())
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}
