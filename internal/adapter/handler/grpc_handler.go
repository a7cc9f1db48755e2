package handler

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/fulfillment-engine/internal/core/service"
)

const (
	ServiceName = "fulfillment.v1.FulfillmentService"
	codecName   = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the service speak gRPC framing with the same JSON bodies as
// the HTTP API. Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

type FulfillmentServer interface {
	Allocate(context.Context, *AllocateRequest) (*AllocateResponse, error)
	BulkAllocate(context.Context, *BulkAllocateRequest) (*BulkAllocateResponse, error)
	AssignAwb(context.Context, *service.AssignRequest) (*OrderResponse, error)
	BulkAssignAwb(context.Context, *BulkAssignRequest) (*BulkAssignResponse, error)
}

type GRPCHandler struct {
	allocation *service.AllocationService
	dispatch   *service.DispatchService
}

func NewGRPCHandler(allocation *service.AllocationService, dispatch *service.DispatchService) *GRPCHandler {
	return &GRPCHandler{allocation: allocation, dispatch: dispatch}
}

func (h *GRPCHandler) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error) {
	record, err := h.allocation.Allocate(ctx, service.AllocateRequest{
		OrderID:    req.OrderID,
		LocationID: req.LocationID,
		Strategy:   req.AllocationStrategy,
	})
	if err != nil && !businessOutcome(err) {
		return nil, grpcError(err)
	}
	resp := newAllocateResponse(record, err)
	return &resp, nil
}

func (h *GRPCHandler) BulkAllocate(ctx context.Context, req *BulkAllocateRequest) (*BulkAllocateResponse, error) {
	summary, err := h.allocation.AllocateBulk(ctx, service.BulkAllocateRequest{
		OrderIDs:   req.OrderIDs,
		LocationID: req.LocationID,
		Strategy:   req.AllocationStrategy,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := allocateResults(summary)
	return &resp, nil
}

func (h *GRPCHandler) AssignAwb(ctx context.Context, req *service.AssignRequest) (*OrderResponse, error) {
	order, err := h.dispatch.Assign(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	return newOrderResponse(order), nil
}

func (h *GRPCHandler) BulkAssignAwb(ctx context.Context, req *BulkAssignRequest) (*BulkAssignResponse, error) {
	summary, err := h.dispatch.BulkAssign(ctx, req.Assignments)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := assignResults(summary)
	return &resp, nil
}

func unaryHandler[Req, Resp any](method string, call func(FulfillmentServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FulfillmentServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(srv.(FulfillmentServer), ctx, r.(*Req))
			})
		},
	}
}

var fulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Allocate", FulfillmentServer.Allocate),
		unaryHandler("BulkAllocate", FulfillmentServer.BulkAllocate),
		unaryHandler("AssignAwb", FulfillmentServer.AssignAwb),
		unaryHandler("BulkAssignAwb", FulfillmentServer.BulkAssignAwb),
	},
	Metadata: "fulfillment/v1/fulfillment.proto",
}

func RegisterFulfillmentServer(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&fulfillmentServiceDesc, srv)
}

// NewGRPCServer builds a traced server with logging and auth interceptors and
// the standard health service already reporting SERVING.
func NewGRPCServer(h *GRPCHandler, auth *Authenticator, logger *zap.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			loggingInterceptor(logger),
			auth.UnaryInterceptor(),
		),
	)
	RegisterFulfillmentServer(srv, h)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return srv, healthServer
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc call failed",
				zap.String("method", info.FullMethod),
				zap.String("code", status.Code(err).String()),
				zap.Error(err))
		}
		return resp, err
	}
}

// FulfillmentClient is the client side of the JSON-coded service.
type FulfillmentClient struct {
	conn grpc.ClientConnInterface
}

func NewFulfillmentClient(conn grpc.ClientConnInterface) *FulfillmentClient {
	return &FulfillmentClient{conn: conn}
}

func (c *FulfillmentClient) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...)
}

func (c *FulfillmentClient) Allocate(ctx context.Context, req *AllocateRequest, opts ...grpc.CallOption) (*AllocateResponse, error) {
	resp := new(AllocateResponse)
	if err := c.invoke(ctx, "Allocate", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *FulfillmentClient) BulkAllocate(ctx context.Context, req *BulkAllocateRequest, opts ...grpc.CallOption) (*BulkAllocateResponse, error) {
	resp := new(BulkAllocateResponse)
	if err := c.invoke(ctx, "BulkAllocate", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *FulfillmentClient) AssignAwb(ctx context.Context, req *service.AssignRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	resp := new(OrderResponse)
	if err := c.invoke(ctx, "AssignAwb", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *FulfillmentClient) BulkAssignAwb(ctx context.Context, req *BulkAssignRequest, opts ...grpc.CallOption) (*BulkAssignResponse, error) {
	resp := new(BulkAssignResponse)
	if err := c.invoke(ctx, "BulkAssignAwb", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}
