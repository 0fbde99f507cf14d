// Package audio handles sample buffering, fixed-duration segment extraction,
// and float-PCM WAV encoding for captured microphone audio.
package audio
