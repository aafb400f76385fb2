// Package echo contains constants shared by the echo probe and server.
package echo

// URLPath selects the echo endpoint on WebSocket servers.
const URLPath = "/echo/v1"

// SecWebSocketProtocol is the WebSocket subprotocol used by the echo
// protocol.
const SecWebSocketProtocol = "net.measurementlab.echo.v1"

// MinPayloadSize is the largest payload size, in bytes, that the probe
// rejects. Every payload it sends is strictly larger than this.
const MinPayloadSize = 16

// DefaultPayloadSize is the payload size, in bytes, used when the
// command line does not override it.
const DefaultPayloadSize = 64

// DefaultMaxMessages is the number of round trips performed when the
// command line does not override it.
const DefaultMaxMessages = 1 << 20

// FillByte is the value the probe writes into every byte of an outgoing
// payload before pushing it.
const FillByte = 0xAB
