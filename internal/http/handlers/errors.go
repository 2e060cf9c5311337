package handlers

// Client-facing messages. They describe the failure class only.
const (
	MsgNotFound            = "Route not found"
	MsgMethodNotAllowed    = "Method not allowed"
	MsgBadRequest          = "Invalid request body"
	MsgUpstreamUnavailable = "Service temporarily unavailable"
	MsgUpstreamTimeout     = "Upstream service timed out"
	MsgInternal            = "Internal server error"
)
