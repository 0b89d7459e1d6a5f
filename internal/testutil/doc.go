// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing conversations, controlling
// embeddings and collecting stream events. They are not intended for
// production usage.
package testutil
