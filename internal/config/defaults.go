package config

// DefaultEndpoint is the default backend WebSocket URL.
const DefaultEndpoint = "ws://127.0.0.1:8001/ws"
