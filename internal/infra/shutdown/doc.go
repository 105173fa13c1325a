// Package shutdown coordinates graceful process exit.
//
// A Handler waits for SIGINT/SIGTERM (or a programmatic Trigger, or the
// parent context ending) and then runs the registered hooks in reverse
// registration order under one deadline:
//
//	h := shutdown.NewHandler(10*time.Second, log)
//	h.OnShutdown("http", srv.Shutdown)
//	h.OnShutdown("storage", func(context.Context) error { return kv.Close() })
//	err := h.Wait(ctx)
package shutdown
