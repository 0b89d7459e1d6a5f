// Package engine runs the agent reasoning loop.
//
// A run resolves its agent, builds the working conversation and system
// prompt (agent instruction, tool list, memory recall) and then alternates
// between model calls and tool executions until the model answers without a
// tool request or the iteration cap is reached. The loop is an explicit state
// machine; Next is its pure transition function.
//
// Two modes share the loop:
//
//	res, err := eng.Run(ctx, engine.Request{AgentID: "assistant", SessionID: "s1", Message: "hi"})
//
//	h, err := eng.Stream(ctx, engine.Request{AgentID: "assistant", SessionID: "s1", Message: "hi"})
//	for ev := range h.Events {
//		// stream_start ... stream_complete | stream_error
//	}
//
// Tool failures are folded into the conversation and never abort a run.
// Gateway failures abort it: the execution moves to ERROR and, when
// streaming, a stream_error with code EXECUTION_ERROR ends the stream.
// Tool-call detection is pluggable through ToolCallParser; hooks around model
// and tool calls are registered on the CallbackManager.
package engine
