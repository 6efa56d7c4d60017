package httpapi

import "context"

// serverBaseCtx ends when the process starts shutting down. Operations in
// flight observe it alongside their request context.
var serverBaseCtx = context.Background()

// SetBaseContext sets the shutdown context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from req that is also canceled when base
// ends. Values carried by req (request id, route params) stay visible.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
