// Package protocol defines the message-passing contract between the LocalLab
// transports and the embedded request-handling application.
//
// A transport hands the application a Scope describing one request together
// with a ReceiveFunc (inbound body chunks) and a SendFunc (outbound status,
// headers and body chunks). The transport never interprets HTTP semantics
// beyond framing: both the primary net/http engine and the fallback acceptor
// in package fallback speak this contract.
//
// # Message Flow
//
// For an HTTP request the application calls receive until it has the whole
// body, then sends exactly one http.response.start message followed by one or
// more http.response.body messages. The last body message has MoreBody unset.
//
//	app := protocol.ApplicationFunc(func(ctx context.Context, scope protocol.Scope,
//	    receive protocol.ReceiveFunc, send protocol.SendFunc) error {
//	    msg, err := receive(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    if err := send(ctx, protocol.ResponseStart(200, nil)); err != nil {
//	        return err
//	    }
//	    return send(ctx, protocol.ResponseBody(msg.Body, false))
//	})
//
// Applications written against net/http can be adapted with FromHTTPHandler,
// and any Application can be served by net/http through ToHTTPHandler.
//
// # Lifespan Scopes
//
// Applications that implement LifespanAware receive a Scope with Type
// "lifespan" once per process. See package lifespan for the negotiation of
// lifecycle calling conventions.
package protocol
