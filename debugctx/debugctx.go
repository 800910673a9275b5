// Package debugctx carries an optional debug writer on a context so low-level
// clients can trace requests without taking a logger dependency.
package debugctx

import (
	"context"
	"fmt"
	"io"
	"strings"
)

type writerKey struct{}

func With(ctx context.Context, writer io.Writer) context.Context {
	if writer == nil {
		return ctx
	}
	return context.WithValue(ctx, writerKey{}, writer)
}

func Enabled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	writer, _ := ctx.Value(writerKey{}).(io.Writer)
	return writer != nil
}

func Printf(ctx context.Context, format string, args ...any) {
	if ctx == nil {
		return
	}

	writer, _ := ctx.Value(writerKey{}).(io.Writer)
	if writer == nil {
		return
	}

	message := strings.TrimSpace(fmt.Sprintf(format, args...))
	if message == "" {
		return
	}

	_, _ = fmt.Fprintf(writer, "debug: %s\n", message)
}
