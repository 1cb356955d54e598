// Package speech wraps the external text-to-speech and playback executables.
//
// Synthesize produces an Artifact in a private temporary directory. The
// caller owns it and must Remove it; Speaker.Speak does so on every path.
// Failed synthesis never leaves files behind.
package speech
