// Package events defines the wire schema exchanged with realtime clients.
//
// Inbound frames form a closed set: every accepted event name maps to exactly
// one payload type, and Decode validates the payload before handing it to the
// coordination layer. Outbound frames are built with Encode.
package events
