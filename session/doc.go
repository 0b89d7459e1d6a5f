// Package session stores conversation history: the prior context handed to
// the reasoning loop and the message count the memory policy works from.
//
// Add additional backends in sub-packages without changing any calling
// code; only the wiring layer decides which implementation to instantiate.
package session
