package adapter

import "context"

type dumpKey struct{}

// WithDump makes the bridge log every HID report exchanged under ctx.
func WithDump(ctx context.Context, on bool) context.Context {
	return context.WithValue(ctx, dumpKey{}, on)
}

func dumping(ctx context.Context) bool {
	on, _ := ctx.Value(dumpKey{}).(bool)
	return on
}
