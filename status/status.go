// Package status wraps google.golang.org/grpc/codes and
// google.golang.org/grpc/status with the small taxonomy the aggregation
// core actually uses. NotFound is repurposed internally by the caches
// as "not cached, dispatch remotely"; the client facade never hands a
// cache's NotFound to its caller, though a transport completion carrying
// NotFound is forwarded unchanged.
package status

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// OK is the zero-value success status, matching status.Status's own
// zero value so a freshly-declared var is already Ok.
var OK error

// InvalidArgument builds an InvalidArgument status with the given message.
func InvalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// NotFound builds the internal cache-miss signal.
func NotFound(format string, args ...any) error {
	return status.Errorf(codes.NotFound, format, args...)
}

// OutOfRange builds an OutOfRange status, used to flag money saturation
// while still returning the saturated value to the caller.
func OutOfRange(format string, args ...any) error {
	return status.Errorf(codes.OutOfRange, format, args...)
}

// IsNotFound reports whether err carries the NotFound code.
func IsNotFound(err error) bool { return status.Code(err) == codes.NotFound }

// IsOutOfRange reports whether err carries the OutOfRange code.
func IsOutOfRange(err error) bool { return status.Code(err) == codes.OutOfRange }

// Ok reports whether err represents success.
func Ok(err error) bool { return err == nil }
