// Package grpc implements the gRPC transport for hearth.
//
// The Conversation service has a single unary method, Handle, carrying
// message.CommandRequest in and message.Result out. Messages use a JSON codec
// registered under the "json" content subtype, so clients need no generated
// stubs: any gRPC client that sets the subtype can call it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HandleMethod is the full method name of Conversation.Handle.
const HandleMethod = "/hearth.v1.Conversation/Handle"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (codec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(codec{})
}

// ConversationServer is the server side of the Conversation service.
type ConversationServer interface {
	Handle(ctx context.Context, req *message.CommandRequest) (*message.Result, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "hearth.v1.Conversation",
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handle", Handler: handleUnary},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hearth/v1/conversation",
}

func handleUnary(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.CommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConversationServer).Handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HandleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConversationServer).Handle(ctx, req.(*message.CommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// conversationServer adapts a transport.Handler to the service.
type conversationServer struct {
	handler transport.Handler
}

func (s *conversationServer) Handle(ctx context.Context, req *message.CommandRequest) (*message.Result, error) {
	res, err := s.handler(ctx, req)
	if err == nil {
		return res, nil
	}
	var ve *transport.ValidationError
	switch {
	case errors.As(err, &ve):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, transport.ErrRateLimited):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	slog.Error("grpc handle failed", "error", err)
	return nil, status.Error(codes.Internal, err.Error())
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port    int
	limiter *transport.Limiter
	server  *grpc.Server
}

// New creates a new gRPC transport on the given port.
func New(port int, limiter *transport.Limiter) *Transport {
	return &Transport{port: port, limiter: limiter, server: grpc.NewServer()}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		_ = t.Close()
	}()

	return t.Serve(lis, handler)
}

// Serve registers the Conversation service and serves lis until Close.
func (t *Transport) Serve(lis net.Listener, handler transport.Handler) error {
	t.server.RegisterService(&serviceDesc, &conversationServer{
		handler: transport.Guard(handler, t.limiter),
	})
	return t.server.Serve(lis)
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.server.GracefulStop()
	return nil
}

// Client calls the Conversation service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Handle sends one request.
func (c *Client) Handle(ctx context.Context, req *message.CommandRequest, opts ...grpc.CallOption) (*message.Result, error) {
	out := new(message.Result)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype("json")}, opts...)
	if err := c.cc.Invoke(ctx, HandleMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
