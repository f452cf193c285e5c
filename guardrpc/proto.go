package guardrpc

import (
	"context"
	"fmt"

	"storj.io/drpc"

	"github.com/anyproto/any-guard/crank"
	"github.com/anyproto/any-guard/guard"
	"github.com/anyproto/any-guard/instruction"
)

const (
	rpcExecuteBundle = "/anyguard.Guard/ExecuteBundle"
	rpcEnqueueClose  = "/anyguard.Guard/EnqueueClose"
	rpcPending       = "/anyguard.Guard/Pending"
)

// message is implemented by every request and response, the wire form uses the instruction codec
type message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

type encoding struct{}

func (encoding) Marshal(msg drpc.Message) ([]byte, error) {
	m, ok := msg.(message)
	if !ok {
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}
	return m.Marshal()
}

func (encoding) Unmarshal(buf []byte, msg drpc.Message) error {
	m, ok := msg.(message)
	if !ok {
		return fmt.Errorf("unsupported message type %T", msg)
	}
	return m.Unmarshal(buf)
}

var (
	executeRequestDiscriminator  = instruction.NewDiscriminator("rpc", "ExecuteRequest")
	executeResponseDiscriminator = instruction.NewDiscriminator("rpc", "ExecuteResponse")
	closeRequestDiscriminator    = instruction.NewDiscriminator("rpc", "CloseRequest")
	closeResponseDiscriminator   = instruction.NewDiscriminator("rpc", "CloseResponse")
	pendingRequestDiscriminator  = instruction.NewDiscriminator("rpc", "PendingRequest")
	pendingResponseDiscriminator = instruction.NewDiscriminator("rpc", "PendingResponse")
)

// decoder checks the discriminator and returns a decoder of the remaining fields
func decoder(data []byte, want instruction.Discriminator) (*instruction.Decoder, error) {
	d, args, err := instruction.Instruction{Data: data}.Split()
	if err != nil {
		return nil, err
	}
	if d != want {
		return nil, fmt.Errorf("%w: unexpected message discriminator %x", instruction.ErrInvalidData, d)
	}
	return instruction.NewDecoder(args), nil
}

type ExecuteRequest struct {
	Bundle *instruction.Bundle
}

func (m *ExecuteRequest) Marshal() ([]byte, error) {
	if m.Bundle == nil {
		return nil, fmt.Errorf("%w: empty bundle", instruction.ErrInvalidData)
	}
	return instruction.NewEncoder(executeRequestDiscriminator).Blob(m.Bundle.Marshal()).Bytes(), nil
}

func (m *ExecuteRequest) Unmarshal(data []byte) (err error) {
	dec, err := decoder(data, executeRequestDiscriminator)
	if err != nil {
		return
	}
	raw := dec.Blob()
	if err = dec.Finish(); err != nil {
		return
	}
	m.Bundle, err = instruction.UnmarshalBundle(raw)
	return
}

type ExecuteResponse struct {
	// Id identifies the applied bundle in logs
	Id string
}

func (m *ExecuteResponse) Marshal() ([]byte, error) {
	return instruction.NewEncoder(executeResponseDiscriminator).Blob([]byte(m.Id)).Bytes(), nil
}

func (m *ExecuteResponse) Unmarshal(data []byte) error {
	dec, err := decoder(data, executeResponseDiscriminator)
	if err != nil {
		return err
	}
	m.Id = string(dec.Blob())
	return dec.Finish()
}

type CloseRequest struct {
	Requests []crank.Request
}

func (m *CloseRequest) Marshal() ([]byte, error) {
	enc := instruction.NewEncoder(closeRequestDiscriminator).U64(uint64(len(m.Requests)))
	for _, req := range m.Requests {
		enc.U8(uint8(req.Variant)).Address(req.Target).Address(req.Initiator)
	}
	return enc.Bytes(), nil
}

func (m *CloseRequest) Unmarshal(data []byte) error {
	dec, err := decoder(data, closeRequestDiscriminator)
	if err != nil {
		return err
	}
	m.Requests = nil
	for i, n := 0, dec.Count(); i < n; i++ {
		m.Requests = append(m.Requests, crank.Request{
			Variant:   guard.Variant(dec.U8()),
			Target:    dec.Address(),
			Initiator: dec.Address(),
		})
	}
	return dec.Finish()
}

type CloseResponse struct {
	Queued uint64
}

func (m *CloseResponse) Marshal() ([]byte, error) {
	return instruction.NewEncoder(closeResponseDiscriminator).U64(m.Queued).Bytes(), nil
}

func (m *CloseResponse) Unmarshal(data []byte) error {
	dec, err := decoder(data, closeResponseDiscriminator)
	if err != nil {
		return err
	}
	m.Queued = dec.U64()
	return dec.Finish()
}

type PendingRequest struct{}

func (m *PendingRequest) Marshal() ([]byte, error) {
	return instruction.NewEncoder(pendingRequestDiscriminator).Bytes(), nil
}

func (m *PendingRequest) Unmarshal(data []byte) error {
	dec, err := decoder(data, pendingRequestDiscriminator)
	if err != nil {
		return err
	}
	return dec.Finish()
}

type PendingResponse struct {
	Count uint64
}

func (m *PendingResponse) Marshal() ([]byte, error) {
	return instruction.NewEncoder(pendingResponseDiscriminator).U64(m.Count).Bytes(), nil
}

func (m *PendingResponse) Unmarshal(data []byte) error {
	dec, err := decoder(data, pendingResponseDiscriminator)
	if err != nil {
		return err
	}
	m.Count = dec.U64()
	return dec.Finish()
}

type DRPCGuardServer interface {
	ExecuteBundle(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
	EnqueueClose(ctx context.Context, req *CloseRequest) (*CloseResponse, error)
	Pending(ctx context.Context, req *PendingRequest) (*PendingResponse, error)
}

type DRPCGuardDescription struct{}

func (DRPCGuardDescription) NumMethods() int { return 3 }

func (DRPCGuardDescription) Method(n int) (string, drpc.Encoding, drpc.Receiver, interface{}, bool) {
	switch n {
	case 0:
		return rpcExecuteBundle, encoding{},
			func(srv interface{}, ctx context.Context, in1, in2 interface{}) (drpc.Message, error) {
				return srv.(DRPCGuardServer).ExecuteBundle(ctx, in1.(*ExecuteRequest))
			}, DRPCGuardServer.ExecuteBundle, true
	case 1:
		return rpcEnqueueClose, encoding{},
			func(srv interface{}, ctx context.Context, in1, in2 interface{}) (drpc.Message, error) {
				return srv.(DRPCGuardServer).EnqueueClose(ctx, in1.(*CloseRequest))
			}, DRPCGuardServer.EnqueueClose, true
	case 2:
		return rpcPending, encoding{},
			func(srv interface{}, ctx context.Context, in1, in2 interface{}) (drpc.Message, error) {
				return srv.(DRPCGuardServer).Pending(ctx, in1.(*PendingRequest))
			}, DRPCGuardServer.Pending, true
	default:
		return "", nil, nil, nil, false
	}
}

func DRPCRegisterGuard(mux drpc.Mux, impl DRPCGuardServer) error {
	return mux.Register(impl, DRPCGuardDescription{})
}

type DRPCGuardClient interface {
	DRPCConn() drpc.Conn
	ExecuteBundle(ctx context.Context, in *ExecuteRequest) (*ExecuteResponse, error)
	EnqueueClose(ctx context.Context, in *CloseRequest) (*CloseResponse, error)
	Pending(ctx context.Context, in *PendingRequest) (*PendingResponse, error)
}

type drpcGuardClient struct {
	cc drpc.Conn
}

func NewDRPCGuardClient(cc drpc.Conn) DRPCGuardClient {
	return &drpcGuardClient{cc}
}

func (c *drpcGuardClient) DRPCConn() drpc.Conn { return c.cc }

func (c *drpcGuardClient) ExecuteBundle(ctx context.Context, in *ExecuteRequest) (*ExecuteResponse, error) {
	out := new(ExecuteResponse)
	if err := c.cc.Invoke(ctx, rpcExecuteBundle, encoding{}, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *drpcGuardClient) EnqueueClose(ctx context.Context, in *CloseRequest) (*CloseResponse, error) {
	out := new(CloseResponse)
	if err := c.cc.Invoke(ctx, rpcEnqueueClose, encoding{}, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *drpcGuardClient) Pending(ctx context.Context, in *PendingRequest) (*PendingResponse, error) {
	out := new(PendingResponse)
	if err := c.cc.Invoke(ctx, rpcPending, encoding{}, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
