// Package stream drives the consumer side of a capture session.
// A Runner waits for fixed-duration segments, saves each one and its
// optional transcript under an increasing index, and exits when capture
// stops or shutdown is requested.
package stream
