// Package profileapi exposes the controller's profile table over gRPC as a
// read-only ProfileService.
package profileapi

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"edgepolicy/internal/server"
)

const (
	ServiceName        = "edgepolicy.v1.ProfileService"
	ListProfilesMethod = "/" + ServiceName + "/ListProfiles"
	GetProfileMethod   = "/" + ServiceName + "/GetProfile"
)

type ProfileServiceServer interface {
	ListProfiles(context.Context, *ListProfilesRequest) (*ListProfilesResponse, error)
	GetProfile(context.Context, *GetProfileRequest) (*ProfileEntry, error)
}

// TableReader is the read side of server.ProfileTable.
type TableReader interface {
	Get(sourceIP string) (server.Entry, bool)
	Snapshot() []server.Record
}

// TableService serves ProfileService from a profile table.
type TableService struct {
	table TableReader
}

func NewTableService(table TableReader) *TableService {
	return &TableService{table: table}
}

func (s *TableService) ListProfiles(context.Context, *ListProfilesRequest) (*ListProfilesResponse, error) {
	records := s.table.Snapshot()
	out := &ListProfilesResponse{Entries: make([]ProfileEntry, 0, len(records))}
	for _, r := range records {
		out.Entries = append(out.Entries, toEntry(r.SourceIP, r.Entry))
	}
	return out, nil
}

func (s *TableService) GetProfile(_ context.Context, req *GetProfileRequest) (*ProfileEntry, error) {
	ip := strings.TrimSpace(req.SourceIP)
	if ip == "" {
		return nil, status.Error(codes.InvalidArgument, "source_ip is required")
	}
	e, ok := s.table.Get(ip)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no profile for %s", ip)
	}
	entry := toEntry(ip, e)
	return &entry, nil
}

func toEntry(ip string, e server.Entry) ProfileEntry {
	return ProfileEntry{
		SourceIP:  ip,
		Profile:   e.Profile.String(),
		CPU:       e.CPU,
		RAM:       e.RAM,
		Traffic:   e.Traffic,
		Peer:      e.Peer,
		UpdatedAt: e.UpdatedAt,
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProfileServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListProfiles", Handler: listProfilesHandler},
		{MethodName: "GetProfile", Handler: getProfileHandler},
	},
	Metadata: "edgepolicy/v1/profile.json",
}

func listProfilesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListProfilesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProfileServiceServer).ListProfiles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListProfilesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProfileServiceServer).ListProfiles(ctx, req.(*ListProfilesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetProfileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProfileServiceServer).GetProfile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetProfileMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProfileServiceServer).GetProfile(ctx, req.(*GetProfileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// NewGRPCServer returns a gRPC server with ProfileService registered. Every
// call is decoded with the JSON codec regardless of content subtype.
func NewGRPCServer(svc ProfileServiceServer, logger *slog.Logger) *grpc.Server {
	registerCodec()
	s := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnaryInterceptor(logCalls(logger)),
	)
	s.RegisterService(&serviceDesc, svc)
	return s
}

func logCalls(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("profile api call failed", "method", info.FullMethod, "code", status.Code(err).String(), "error", err)
		} else {
			logger.Debug("profile api call", "method", info.FullMethod)
		}
		return resp, err
	}
}

// Serve runs the gRPC server on addr until ctx ends.
func Serve(ctx context.Context, addr string, srv *grpc.Server, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, srv, logger)
}

func ServeListener(ctx context.Context, ln net.Listener, srv *grpc.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("profile api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	}
}
