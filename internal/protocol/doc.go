// Package protocol implements the microphone device wire format: the
// registration handshake and the PCM16 datagrams the device streams back.
package protocol
