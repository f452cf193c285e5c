package guardrpc

import (
	"context"
	"net"

	"storj.io/drpc/drpcconn"

	"github.com/anyproto/any-guard/crank"
	"github.com/anyproto/any-guard/instruction"
	"github.com/anyproto/any-guard/util/rpcerr"
)

// Client calls a running guard node, remote errors are mapped back to their registered values
type Client struct {
	conn *drpcconn.Conn
	rpc  DRPCGuardClient
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	dc := drpcconn.New(conn)
	return &Client{conn: dc, rpc: NewDRPCGuardClient(dc)}, nil
}

func (c *Client) ExecuteBundle(ctx context.Context, b *instruction.Bundle) (id string, err error) {
	resp, err := c.rpc.ExecuteBundle(ctx, &ExecuteRequest{Bundle: b})
	if err != nil {
		return "", rpcerr.Unwrap(err)
	}
	return resp.Id, nil
}

func (c *Client) EnqueueClose(ctx context.Context, reqs ...crank.Request) error {
	_, err := c.rpc.EnqueueClose(ctx, &CloseRequest{Requests: reqs})
	return rpcerr.Unwrap(err)
}

func (c *Client) Pending(ctx context.Context) (int, error) {
	resp, err := c.rpc.Pending(ctx, &PendingRequest{})
	if err != nil {
		return 0, rpcerr.Unwrap(err)
	}
	return int(resp.Count), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
