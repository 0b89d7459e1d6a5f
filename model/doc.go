// Package model defines the provider-agnostic language model gateway consumed
// by the reasoning loop.
//
// Core goals:
//   - Unify buffered and streaming generation behind a single Gateway interface
//   - Normalize native tool calls into core.ToolCall
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (model/openai, model/anthropic) implement Gateway so the engine
// stays decoupled from vendor SDKs.
package model
