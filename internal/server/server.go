package server

import (
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/vanguard"
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/atlekbai/record_query/internal/middleware"
)

// ConnectService is implemented by each service to register its connect handler.
type ConnectService interface {
	// RegisterHandler returns the service schema and the handler serving it.
	RegisterHandler(interceptors ...connect.Interceptor) (protoreflect.ServiceDescriptor, http.Handler)
}

// NewHandler serves the services over Connect, gRPC and the REST routes
// declared by their google.api.http annotations.
func NewHandler(logger *zap.Logger, services []ConnectService, interceptors ...connect.Interceptor) (http.Handler, error) {
	vanguardServices := make([]*vanguard.Service, len(services))
	for i, svc := range services {
		desc, handler := svc.RegisterHandler(interceptors...)
		vanguardServices[i] = vanguard.NewServiceWithSchema(desc, handler)
	}

	transcoder, err := vanguard.NewTranscoder(vanguardServices)
	if err != nil {
		return nil, fmt.Errorf("vanguard transcoder: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", transcoder)
	return middleware.Recovery(logger)(middleware.Logging(logger)(mux)), nil
}
