// Command flm is the operator CLI for the local LLM gateway: starting and
// stopping the reverse proxy, managing API keys and security policy,
// inspecting detected backends, and installing the dev/packaged root CA.
//
// Usage:
//
//	# Start the proxy in the background
//	flm proxy start --mode local_http --port 8443
//
//	# Check what's running
//	flm proxy status --format json
//
//	# Issue an API key
//	flm api-keys create --label "ci pipeline"
//
// For complete documentation, see the project README.
package main

func main() {
	Execute()
}
