// Package websocket provides real-time worker event streaming via WebSocket.
//
// Clients can connect to /api/v1/workers/:id/ws to receive the lifecycle
// events of one worker as JSON text messages.
package websocket
