package config

// Defaults point at a development server started with moldline-server.
const (
	DefaultChatAPIURL       = "http://127.0.0.1:8080"
	DefaultAuthAPIURL       = "http://127.0.0.1:8080"
	DefaultWSURL            = "ws://127.0.0.1:8080/ws"
	DefaultReconnectDelayMs = 2000
	DefaultHTTPTimeoutMs    = 15000
	DefaultCredentialStore  = "file"
	DefaultLogLevel         = "info"
	DefaultRefreshPerSecond = 2.0
)
