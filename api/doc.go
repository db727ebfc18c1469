// Package api defines the request and response bodies of the AgentGraph
// HTTP API.
//
// # API Overview
//
// AgentGraph exposes a RESTful API for:
//   - Executing workflow graphs from the definitions catalog or inline
//   - Cancelling runs and querying their progress
//   - Streaming node results over a WebSocket while a run executes
//   - Reading stored run history
//   - Counting tokens for a model family
//   - Health monitoring and metrics
//
// # Authentication
//
// When API keys are configured, requests must carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// A bearer JWT signed with the configured secret is accepted instead when
// JWT auth is enabled.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
