package eventing

import "context"

type envelopeKey struct{}

type correlationKey struct{}

// WithEnvelope marks ctx as handling env.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope being handled, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}

// WithCorrelationID tags events published under ctx, typically with an inbound request id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// MetaFromContext builds publish metadata. An explicit correlation id wins; events
// published while handling another event inherit its correlation id.
func MetaFromContext(ctx context.Context) Meta {
	if corr, ok := ctx.Value(correlationKey{}).(string); ok && corr != "" {
		return Meta{CorrelationID: corr}
	}
	if env, ok := EnvelopeFromContext(ctx); ok {
		return Meta{CorrelationID: env.CorrelationID}
	}
	return Meta{}
}
