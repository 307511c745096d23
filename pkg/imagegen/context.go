package imagegen

import (
	"context"
	"errors"
)

type requestIDKey struct{}

// WithRequestID tags ctx so adapters can correlate their log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func joinErrors(head error, errs []error) error {
	return errors.Join(append([]error{head}, errs...)...)
}
