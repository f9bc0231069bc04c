// Package protocol implements the wire format spoken over the trading WebSocket.
//
// Outgoing requests are four newline-separated fields:
//
//	<endpoint>\n<id>\n<query>\n<body>
//
// Incoming traffic is a one-character frame marker optionally followed by a
// JSON payload. Data frames carry an array of envelopes:
//
//	a[{"i":7,"s":200,"d":{...}}]
//
// The package is pure: no I/O and no state.
package protocol
