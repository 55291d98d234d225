package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexPeriod
)

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// SetPeriod tags ctx with the acquisition period it is running in so that bus
// backends can attribute their log lines.
func SetPeriod(ctx context.Context, period uint64) context.Context {
	return context.WithValue(ctx, ctxIndexPeriod, period)
}

func Period(ctx context.Context) (uint64, bool) {
	val, ok := ctx.Value(ctxIndexPeriod).(uint64)
	return val, ok
}
