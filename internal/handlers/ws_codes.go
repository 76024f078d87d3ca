// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room socket.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	SessionClosedError  = 3001 // The server is shutting down and no longer takes room events.
	RateLimitedError    = 3002 // Client kept sending after repeated rate limit warnings.
)
