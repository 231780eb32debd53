// Package lifespan negotiates how the server drives an application's
// startup and shutdown.
//
// Applications expose lifecycle hooks in different shapes. The Negotiator
// walks an ordered table of strategies, each recognising one shape through
// a type assertion, and returns a Handle for the first that matches. When
// none match, a Noop handle is returned that logs and records a
// degraded-capability warning on Startup.
//
// Strategy order:
//
//  1. lifespan-protocol: protocol.LifespanAware applications receiving
//     lifespan.startup and lifespan.shutdown messages
//  2. context-hooks: Startup(ctx) error and Shutdown(ctx) error
//  3. start-stop: Start(ctx) error and Stop(ctx) error
//  4. plain-hooks: OnStartup() error and OnShutdown() error
//  5. closer: io.Closer, shutdown only
//
// Every returned Handle calls the underlying Startup and Shutdown at most
// once.
package lifespan
