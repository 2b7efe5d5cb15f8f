package interceptors

import (
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"proctoring-engine/internal/platform/errs"
)

// ErrorsUnary converts engine errors returned by handlers into gRPC status errors. Errors that already
// carry a status pass through. Internal errors are logged with the caller and their text is not sent to
// the client. Install it inside the Authenticator so the caller is known.
func ErrorsUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		code := errs.Code(err)
		if code == codes.Internal {
			log.Printf("interceptors: %s (caller %s): %v", info.FullMethod, callerName(ctx), err)
			return nil, status.Error(codes.Internal, "internal error")
		}
		return nil, status.Error(code, err.Error())
	}
}
