package guardrpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"storj.io/drpc"
	"storj.io/drpc/drpcmanager"
	"storj.io/drpc/drpcmux"
	"storj.io/drpc/drpcserver"
	"storj.io/drpc/drpcstream"
	"storj.io/drpc/drpcwire"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/bundle"
	"github.com/anyproto/any-guard/crank"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/util/rpcerr"
)

const CName = "guard.rpc"

var log = logger.NewNamed(CName)

var (
	errGroup = rpcerr.ErrGroup(10000)

	ErrInvalidRequest = errGroup.Register(errors.New("invalid request"), 1)
)

const defaultMaxMsgSizeMb = 4

type Config struct {
	// ListenAddr is the drpc listen address, the server is disabled when empty
	ListenAddr   string `yaml:"listenAddr"`
	MaxMsgSizeMb int    `yaml:"maxMsgSizeMb"`
}

type configGetter interface {
	GetRpc() Config
}

// Server accepts bundles and close requests over drpc
type Server interface {
	// Addr returns the bound listen address, empty until Run or when the server is disabled
	Addr() string
	app.ComponentRunnable
}

func New() Server {
	return &server{}
}

type server struct {
	conf       Config
	executor   bundle.Executor
	crank      crank.Crank
	drpcServer *drpcserver.Server
	addr       string

	runCtx       context.Context
	runCtxCancel context.CancelFunc
	serveDone    chan struct{}
}

func (s *server) Init(a *app.App) (err error) {
	if cg, ok := a.Component("config").(configGetter); ok {
		s.conf = cg.GetRpc()
	}
	if s.conf.MaxMsgSizeMb <= 0 {
		s.conf.MaxMsgSizeMb = defaultMaxMsgSizeMb
	}
	s.executor = a.MustComponent(bundle.CName).(bundle.Executor)
	s.crank = a.MustComponent(crank.CName).(crank.Crank)

	mux := drpcmux.New()
	if err = DRPCRegisterGuard(mux, &rpcHandler{s: s}); err != nil {
		return err
	}
	var handler drpc.Handler = mux
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		handler = m.WrapDRPCHandler(handler)
	}
	bufSize := s.conf.MaxMsgSizeMb * (1 << 20)
	s.drpcServer = drpcserver.NewWithOptions(handler, drpcserver.Options{Manager: drpcmanager.Options{
		Reader: drpcwire.ReaderOptions{MaximumBufferSize: bufSize},
		Stream: drpcstream.Options{MaximumBufferSize: bufSize},
	}})
	return nil
}

func (s *server) Name() (name string) {
	return CName
}

func (s *server) Run(ctx context.Context) (err error) {
	if s.conf.ListenAddr == "" {
		log.Info("rpc server disabled")
		return nil
	}
	lis, err := net.Listen("tcp", s.conf.ListenAddr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.addr = lis.Addr().String()
	s.runCtx, s.runCtxCancel = context.WithCancel(context.Background())
	s.serveDone = make(chan struct{})
	go func() {
		defer close(s.serveDone)
		if serveErr := s.drpcServer.Serve(s.runCtx, lis); serveErr != nil {
			log.Error("rpc server stopped", zap.Error(serveErr))
		}
	}()
	log.Info("rpc server started", zap.String("addr", s.addr))
	return nil
}

func (s *server) Addr() string {
	return s.addr
}

func (s *server) Close(ctx context.Context) (err error) {
	if s.runCtxCancel == nil {
		return nil
	}
	s.runCtxCancel()
	select {
	case <-s.serveDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

type rpcHandler struct {
	s *server
}

func (h *rpcHandler) ExecuteBundle(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	id, err := h.s.executor.Execute(ctx, req.Bundle)
	if err != nil {
		return nil, rpcerr.Coded(err)
	}
	return &ExecuteResponse{Id: id}, nil
}

func (h *rpcHandler) EnqueueClose(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	if len(req.Requests) == 0 {
		return nil, fmt.Errorf("%w: no records to close", ErrInvalidRequest)
	}
	for i, r := range req.Requests {
		if r.Variant.RecordSize() == 0 {
			return nil, fmt.Errorf("%w: request %d: unknown variant %d", ErrInvalidRequest, i, uint8(r.Variant))
		}
	}
	if err := h.s.crank.Enqueue(ctx, req.Requests...); err != nil {
		return nil, rpcerr.Coded(err)
	}
	log.DebugCtx(ctx, "close requests queued", zap.Int("count", len(req.Requests)))
	return &CloseResponse{Queued: uint64(len(req.Requests))}, nil
}

func (h *rpcHandler) Pending(ctx context.Context, _ *PendingRequest) (*PendingResponse, error) {
	n, err := h.s.crank.Pending(ctx)
	if err != nil {
		return nil, rpcerr.Coded(err)
	}
	return &PendingResponse{Count: uint64(n)}, nil
}
