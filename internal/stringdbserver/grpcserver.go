// Package stringdbserver exposes a database and its query manager over gRPC.
package stringdbserver

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/zendbit/StringDB/internal/config"
	"github.com/zendbit/StringDB/internal/query"
	"github.com/zendbit/StringDB/internal/stringdb"
)

const ServiceName = "stringdb.StringDB"

// StringDBServer serves inserts and streaming scans. Writes serialize
// against the scan through the manager's worker lock; scans subscribe to the
// manager so concurrent clients share one cursor.
type StringDBServer struct {
	db    stringdb.Databaser
	mgr   *query.Manager
	conf  *config.Config
	gserv *grpc.Server

	sugar *zap.SugaredLogger
}

func NewStringDBServer(db stringdb.Databaser, mgr *query.Manager, conf *config.Config, logger *zap.Logger) *StringDBServer {
	return &StringDBServer{
		db:    db,
		mgr:   mgr,
		conf:  conf,
		sugar: logger.Sugar(),
	}
}

// Start listens on the configured address and serves until GracefulStop.
func (ss *StringDBServer) Start() error {
	listen, err := net.Listen("tcp", ss.conf.Address)
	if err != nil {
		return err
	}
	return ss.ServeListener(listen)
}

// ServeListener serves on an existing listener, useful for in-memory tests.
func (ss *StringDBServer) ServeListener(listen net.Listener) error {
	ss.gserv = grpc.NewServer(
		grpc.ForceServerCodec(Codec{}),
		grpc.UnaryInterceptor(ss.authUnary),
		grpc.StreamInterceptor(ss.authStream),
	)
	ss.gserv.RegisterService(&serviceDesc, ss)
	ss.sugar.Infow("grpcserver start", "address", listen.Addr())

	return ss.gserv.Serve(listen)
}

func (ss *StringDBServer) GracefulStop() {
	if ss.gserv != nil {
		ss.gserv.GracefulStop()
	}
}

func (ss *StringDBServer) Insert(ctx context.Context, in *InsertRequest) (*InsertResponse, error) {
	var resp InsertResponse

	err := ss.mgr.Exclusive(ctx, func() error {
		return ss.db.Insert(in.Key, in.Value)
	})
	if err != nil {
		resp.Error = err.Error()
		return &resp, err
	}
	return &resp, nil
}

func (ss *StringDBServer) InsertRange(ctx context.Context, in *InsertRangeRequest) (*InsertResponse, error) {
	var resp InsertResponse

	items := make([]stringdb.KV, len(in.Items))
	for i, kv := range in.Items {
		items[i] = stringdb.KV{Key: kv.Key, Value: kv.Value}
	}

	err := ss.mgr.Exclusive(ctx, func() error {
		return ss.db.InsertRange(items)
	})
	if err != nil {
		resp.Error = err.Error()
		return &resp, err
	}
	return &resp, nil
}

// Scan subscribes to the query manager and streams exactly one full pass.
// Records broadcast for a pass already in progress at subscribe time are
// skipped; streaming starts at the next id reset.
func (ss *StringDBServer) Scan(in *ScanRequest, stream grpc.ServerStream) error {
	sub := ss.mgr.Subscribe()
	defer sub.Close()

	ctx := stream.Context()
	if err := sub.Go(ctx); err != nil {
		return err
	}
	defer func() {
		// best effort, the manager may already be gone
		_ = sub.Stop(context.Background())
	}()

	started := false
	for {
		rec, err := sub.Receive(ctx)
		if err != nil {
			return err
		}

		if rec.EndOfScan {
			// the marker id is the pass's record count, so a zero id on an
			// unstarted stream means the database is genuinely empty
			if !started && rec.Id != 0 {
				continue
			}
			return stream.SendMsg(&ScanRecord{Last: true})
		}
		if !started {
			if rec.Id != 0 {
				continue
			}
			started = true
		}

		out := &ScanRecord{Id: rec.Id, Key: rec.Key}
		if in.LoadValues {
			v, err := rec.Value.Load(ctx)
			if err != nil {
				return err
			}
			out.Value = v
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

// auth helpers: a static bearer token checked when one is configured.

func (ss *StringDBServer) authorized(ctx context.Context) error {
	if ss.conf.Token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	for _, v := range md.Get("authorization") {
		if v == "Bearer "+ss.conf.Token {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "bad token")
}

func (ss *StringDBServer) authUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if err := ss.authorized(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (ss *StringDBServer) authStream(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := ss.authorized(stream.Context()); err != nil {
		return err
	}
	return handler(srv, stream)
}
