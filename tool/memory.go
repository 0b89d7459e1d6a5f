package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentexec/memory"
)

// MemoryReader is the part of the memory manager the memory tool uses.
type MemoryReader interface {
	Search(ctx context.Context, sessionID, query string, topK int, minSimilarity float64) ([]memory.SearchResult, error)
	Stats(ctx context.Context, sessionID string) (memory.Stats, error)
}

type memoryArgs struct {
	Operation string `json:"operation" description:"The memory operation to perform" enum:"search_memory,memory_stats"`
	Query     string `json:"query,omitempty" description:"Search query for search_memory"`
	TopK      *int   `json:"top_k" description:"Maximum number of memories to return (default: 5)"`
}

// NewMemoryTool returns the "memory" tool, which lets the model search the
// current session's long-term memory or read its statistics. The session is
// taken from CallInfoFromContext.
func NewMemoryTool(mem MemoryReader) *FunctionTool {
	return NewFunctionToolFromStruct(
		"memory",
		"Reads the long-term memory of the current conversation. "+
			"Supports operations: search_memory (find earlier messages relevant to a query), memory_stats.",
		memoryArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			var in memoryArgs
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			sessionID := CallInfoFromContext(ctx).SessionID
			if sessionID == "" {
				return nil, errors.New("memory is only available inside a session")
			}
			switch in.Operation {
			case "search_memory":
				if in.Query == "" {
					return nil, NewToolError("memory", "query is required for search_memory", CodeValidation)
				}
				topK := 0
				if in.TopK != nil {
					topK = *in.TopK
				}
				return mem.Search(ctx, sessionID, in.Query, topK, -1)
			case "memory_stats":
				return mem.Stats(ctx, sessionID)
			default:
				return nil, fmt.Errorf("unsupported operation %q", in.Operation)
			}
		},
	)
}
