// Package fallback implements the degraded HTTP/1.1 transport used when the
// primary engine fails to start.
//
// It speaks just enough HTTP to keep the application reachable: one request
// per connection, no keep-alive, no chunked bodies and no pipelining. Every
// response carries Connection: close.
//
// The package has three layers:
//
//   - framer: ReadRequest parses one request from a connection and
//     ResponseWriter serializes response messages back onto it
//   - bridge: Bridge turns a parsed request into a protocol.Scope, runs the
//     application once and collects the messages it sends, replacing any
//     failure with a synthetic 500
//   - acceptor: Acceptor owns a listening socket and runs the accept loop,
//     handing each connection to its own goroutine
//
// Example:
//
//	acc := fallback.New(app, fallback.Options{Addr: "127.0.0.1:8000"})
//	if err := acc.Listen(ctx); err != nil {
//		return err // *fallback.BindError
//	}
//	acc.Start(ctx)
//	...
//	acc.Close()
//	acc.WaitClosed(shutdownCtx)
package fallback
