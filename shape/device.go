package shape

import "context"

type deviceKey struct{}

// WithDevice attaches the resolved inference device to ctx. Generators that
// run on a model server forward it as a hint.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey{}, device)
}

// DeviceFromContext returns the device set by WithDevice, if any.
func DeviceFromContext(ctx context.Context) (string, bool) {
	d, ok := ctx.Value(deviceKey{}).(string)
	return d, ok && d != ""
}
