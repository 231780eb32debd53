// Package tunnel exposes a local port through a public ngrok tunnel.
//
// Provisioner validates the auth token before touching the network, then
// retries clear, open and verify with exponential backoff. AgentClient
// drives a local ngrok agent through its JSON API, starting the agent
// process when none is listening.
package tunnel
