// Package agent resolves agent configurations for the reasoning loop.
//
// An agent is pure configuration: identity, a system prompt (static text,
// a text/template rendered per run, or a dynamic Provider), the names of the
// tools it may use and the document collections it searches. The package
// concerns itself with three things:
//
//  1. The Config value and its validation
//  2. Instruction resolution (static, templated or provider backed)
//  3. A concurrency safe Registry, loadable from YAML
//
// Execution lives in the engine package; persistence of conversations lives
// in the session package.
package agent
