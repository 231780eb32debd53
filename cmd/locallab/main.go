// LocalLab starts and supervises a local inference server.
//
// The parent process picks a free port, spawns the server as a child,
// funnels its logs, waits for /health and optionally opens a public tunnel:
//
//	# Start on the default port
//	locallab start
//
//	# Start with a public tunnel (binds 0.0.0.0)
//	NGROK_AUTH_TOKEN=... locallab start --tunnel
//
//	# Show or change configuration
//	locallab config show
//	locallab config set server.port 8080
//
//	# Check the environment
//	locallab info
package main

func main() {
	Execute()
}
