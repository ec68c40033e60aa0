package websocket

import (
	"github.com/coder/websocket"
)

// Message types sent to the browser.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

// Client represents a connected browser tab.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// UpdateMessage represents a message sent to the browser.
type UpdateMessage struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Content string `json:"content,omitempty"`
}
