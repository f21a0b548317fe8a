package service

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/jwt"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const ingestServiceName = "broadcast.v1.Ingest"

type PublishRequest struct {
	Room string          `json:"room"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PublishResponse struct {
	Room      string    `json:"room"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

type CellRequest struct {
	ContestID uuid.UUID       `json:"contestId"`
	Delta     model.CellDelta `json:"delta"`
}

type SeedRequest struct {
	Leaderboard model.Leaderboard `json:"leaderboard"`
}

type FreezeRequest struct {
	ContestID uuid.UUID `json:"contestId"`
}

type UnfreezeRequest struct {
	ContestID         uuid.UUID          `json:"contestId"`
	Leaderboard       *model.Leaderboard `json:"leaderboard,omitempty"`
	FrozenSubmissions []json.RawMessage  `json:"frozenSubmissions,omitempty"`
}

type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IngestServer is the gRPC surface the CRUD layer pushes events through.
type IngestServer interface {
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	PublishCell(context.Context, *CellRequest) (*AckResponse, error)
	SeedLeaderboard(context.Context, *SeedRequest) (*AckResponse, error)
	Freeze(context.Context, *FreezeRequest) (*AckResponse, error)
	Unfreeze(context.Context, *UnfreezeRequest) (*AckResponse, error)
}

var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ingestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: unaryHandler("Publish", IngestServer.Publish)},
		{MethodName: "PublishCell", Handler: unaryHandler("PublishCell", IngestServer.PublishCell)},
		{MethodName: "SeedLeaderboard", Handler: unaryHandler("SeedLeaderboard", IngestServer.SeedLeaderboard)},
		{MethodName: "Freeze", Handler: unaryHandler("Freeze", IngestServer.Freeze)},
		{MethodName: "Unfreeze", Handler: unaryHandler("Unfreeze", IngestServer.Unfreeze)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "broadcast/v1/ingest.proto",
}

func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&IngestServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(IngestServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ingestServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IngestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IngestServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// IngestGRPC adapts Ingest to the gRPC surface.
type IngestGRPC struct {
	ingest *Ingest
}

func NewIngestGRPC(ingest *Ingest) *IngestGRPC {
	return &IngestGRPC{ingest: ingest}
}

func (s *IngestGRPC) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	ev, err := s.ingest.Publish(ctx, req.Room, req.Name, req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PublishResponse{Room: ev.Room, Name: ev.Name, Timestamp: ev.Timestamp}, nil
}

func (s *IngestGRPC) PublishCell(ctx context.Context, req *CellRequest) (*AckResponse, error) {
	if req.ContestID == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "contestId is required")
	}
	if err := s.ingest.PublishCell(ctx, req.ContestID, req.Delta); err != nil {
		return nil, toStatus(err)
	}
	return &AckResponse{Success: true, Message: "published"}, nil
}

func (s *IngestGRPC) SeedLeaderboard(ctx context.Context, req *SeedRequest) (*AckResponse, error) {
	if _, err := s.ingest.SeedLeaderboard(ctx, req.Leaderboard); err != nil {
		return nil, toStatus(err)
	}
	return &AckResponse{Success: true, Message: "seeded"}, nil
}

func (s *IngestGRPC) Freeze(ctx context.Context, req *FreezeRequest) (*AckResponse, error) {
	if req.ContestID == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "contestId is required")
	}
	changed, err := s.ingest.Freeze(ctx, req.ContestID)
	if err != nil {
		return nil, toStatus(err)
	}
	if !changed {
		return &AckResponse{Success: true, Message: "already frozen"}, nil
	}
	return &AckResponse{Success: true, Message: "frozen"}, nil
}

func (s *IngestGRPC) Unfreeze(ctx context.Context, req *UnfreezeRequest) (*AckResponse, error) {
	if req.ContestID == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "contestId is required")
	}
	if _, err := s.ingest.Unfreeze(ctx, req.ContestID, req.Leaderboard, req.FrozenSubmissions); err != nil {
		return nil, toStatus(err)
	}
	return &AckResponse{Success: true, Message: "unfrozen"}, nil
}

func toStatus(err error) error {
	msg := apperr.Message(err)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case apperr.KindForbidden:
		return status.Error(codes.FailedPrecondition, msg)
	case apperr.KindUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case apperr.KindMalformed:
		return status.Error(codes.InvalidArgument, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

// AuthInterceptor requires a valid service token in the authorization
// metadata of every call.
func AuthInterceptor(jm *jwt.JWTManager, log *zap.Logger) grpc.UnaryServerInterceptor {
	log = log.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing service token")
		}

		token := strings.TrimPrefix(values[0], "Bearer ")
		claims, err := jm.ValidateToken(token)
		if err != nil {
			log.Info("rejected service token", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("ingest call",
			zap.String("method", info.FullMethod),
			zap.String("service", claims.Service),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}
