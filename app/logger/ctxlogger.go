package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxFieldsKey struct{}

// CtxWithFields returns a context carrying fields for the *Ctx log methods, nested calls accumulate
func CtxWithFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing := CtxGetFields(ctx)
	return context.WithValue(ctx, ctxFieldsKey{}, append(existing[:len(existing):len(existing)], fields...))
}

func CtxGetFields(ctx context.Context) []zap.Field {
	fields, _ := ctx.Value(ctxFieldsKey{}).([]zap.Field)
	return fields
}

func withCtxFields(ctx context.Context, fields []zap.Field) []zap.Field {
	ctxFields := CtxGetFields(ctx)
	if len(ctxFields) == 0 {
		return fields
	}
	return append(ctxFields[:len(ctxFields):len(ctxFields)], fields...)
}

// CtxLogger is a named logger, its *Ctx methods prepend the fields stored in the context
type CtxLogger struct {
	*zap.Logger
	name string
}

func (cl CtxLogger) Name() string {
	return cl.name
}

func (cl CtxLogger) DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	if ce := cl.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(withCtxFields(ctx, fields)...)
	}
}

func (cl CtxLogger) InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	if ce := cl.Check(zap.InfoLevel, msg); ce != nil {
		ce.Write(withCtxFields(ctx, fields)...)
	}
}

func (cl CtxLogger) WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	if ce := cl.Check(zap.WarnLevel, msg); ce != nil {
		ce.Write(withCtxFields(ctx, fields)...)
	}
}

func (cl CtxLogger) ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	if ce := cl.Check(zap.ErrorLevel, msg); ce != nil {
		ce.Write(withCtxFields(ctx, fields)...)
	}
}

func (cl CtxLogger) With(fields ...zap.Field) CtxLogger {
	return CtxLogger{Logger: cl.Logger.With(fields...), name: cl.name}
}
