package tools

import "context"

type invokerKey struct{}

// WithInvoker records the agent on whose behalf tools are being executed.
func WithInvoker(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, invokerKey{}, agent)
}

// Invoker returns the agent recorded by WithInvoker, or "".
func Invoker(ctx context.Context) string {
	agent, _ := ctx.Value(invokerKey{}).(string)
	return agent
}
