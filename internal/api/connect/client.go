package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the control service.
type Client struct {
	baseURL    string
	httpClient connect.HTTPClient
	opts       []connect.ClientOption
}

// NewClient creates a control service client. A non-empty token is sent
// with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		opts:       []connect.ClientOption{connect.WithInterceptors(NewTokenInterceptor(token))},
	}
}

func (c *Client) client(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
	return connect.NewClient[structpb.Struct, structpb.Struct](c.httpClient, c.baseURL+procedure, c.opts...)
}

// Call invokes a unary procedure with args and returns its status reply.
func (c *Client) Call(ctx context.Context, procedure string, args map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(args)
	if err != nil {
		return nil, errors.Wrap(err, "invalid arguments")
	}
	resp, err := c.client(procedure).CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Status returns the controller status.
func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, StatusProcedure, nil)
}

// Watch streams status and event messages to fn until ctx ends, the
// server closes the stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(*structpb.Struct) error) error {
	stream, err := c.client(WatchProcedure).CallServerStream(ctx, connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	return stream.Err()
}
