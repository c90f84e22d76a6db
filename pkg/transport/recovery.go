package transport

import (
	"context"
	"fmt"

	"github.com/stapel-ai/stapel/pkg/api"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to server error responses. The server continues to
// accept new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next BatchRunner) BatchRunner {
		return BatchRunnerFunc(func(ctx context.Context, req *api.BatchRequest, w RunWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					retErr = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.RunBatch(ctx, req, w)
		})
	}
}
