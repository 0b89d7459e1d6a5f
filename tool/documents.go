package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/embedding"
	"github.com/hupe1980/agentexec/vectorstore"
)

// Document is a unit of text indexed into a collection.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocumentResults is the document search result. The slices are parallel.
type DocumentResults struct {
	Query      string           `json:"query"`
	Collection string           `json:"collection"`
	IDs        []string         `json:"ids"`
	Results    []string         `json:"results"`
	Metadata   []map[string]any `json:"metadata"`
	Distances  []float64        `json:"distances"`
}

// DocumentIndex stores and searches document collections, one vector store
// namespace per collection ("collection_<name>").
type DocumentIndex struct {
	store    vectorstore.Store
	embedder embedding.Embedder
}

// NewDocumentIndex creates a document index.
func NewDocumentIndex(store vectorstore.Store, embedder embedding.Embedder) *DocumentIndex {
	return &DocumentIndex{store: store, embedder: embedder}
}

// CollectionNamespace returns the vector store namespace of a collection.
func CollectionNamespace(collection string) string { return "collection_" + collection }

// Add embeds and upserts docs and returns how many were stored. Documents
// whose embedding fails are skipped.
func (d *DocumentIndex) Add(ctx context.Context, collection string, docs ...Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	vectors, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	records := make([]vectorstore.Record, 0, len(docs))
	for i, doc := range docs {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			continue
		}
		id := doc.ID
		if id == "" {
			id = core.NewID()
		}
		records = append(records, vectorstore.Record{ID: id, Text: doc.Text, Vector: vectors[i], Metadata: doc.Metadata})
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := d.store.Upsert(ctx, CollectionNamespace(collection), records...); err != nil {
		return 0, fmt.Errorf("upsert documents: %w", err)
	}
	return len(records), nil
}

// Search returns the limit nearest documents of a collection.
func (d *DocumentIndex) Search(ctx context.Context, collection, query string, limit int) (DocumentResults, error) {
	if strings.TrimSpace(collection) == "" {
		return DocumentResults{}, fmt.Errorf("collection is required")
	}
	if limit <= 0 {
		limit = 5
	}
	vec, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return DocumentResults{}, fmt.Errorf("failed to create query embedding: %w", err)
	}
	matches, err := d.store.Query(ctx, CollectionNamespace(collection), vec, limit)
	if err != nil {
		return DocumentResults{}, fmt.Errorf("query collection %q: %w", collection, err)
	}
	res := DocumentResults{
		Query:      query,
		Collection: collection,
		IDs:        make([]string, 0, len(matches)),
		Results:    make([]string, 0, len(matches)),
		Metadata:   make([]map[string]any, 0, len(matches)),
		Distances:  make([]float64, 0, len(matches)),
	}
	for _, m := range matches {
		res.IDs = append(res.IDs, m.ID)
		res.Results = append(res.Results, m.Text)
		res.Metadata = append(res.Metadata, m.Metadata)
		res.Distances = append(res.Distances, m.Distance)
	}
	return res, nil
}

type documentSearchArgs struct {
	Query      string `json:"query" description:"Search query for finding relevant documents"`
	Collection string `json:"collection" description:"Document collection name to search in"`
	Limit      *int   `json:"limit" description:"Maximum number of results to return (default: 5)"`
}

// NewDocumentSearchTool returns the document_search built-in.
func NewDocumentSearchTool(index *DocumentIndex) *FunctionTool {
	return NewFunctionToolFromStruct(
		"document_search",
		"Searches through document collections to find relevant information. Useful for finding specific information from uploaded documents.",
		documentSearchArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			var in documentSearchArgs
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			return index.Search(ctx, in.Collection, in.Query, limitOrDefault(in.Limit))
		},
	)
}

type collectionSearchArgs struct {
	Query string `json:"query" description:"Search query"`
	Limit *int   `json:"limit" description:"Maximum number of results to return (default: 5)"`
}

// CollectionTool returns "search_<collection>", a retrieval tool bound to a
// single collection.
func CollectionTool(index *DocumentIndex, collection string) *FunctionTool {
	return NewFunctionToolFromStruct(
		"search_"+collection,
		fmt.Sprintf("Searches the %q document collection for information relevant to the query.", collection),
		collectionSearchArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			var in collectionSearchArgs
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			return index.Search(ctx, collection, in.Query, limitOrDefault(in.Limit))
		},
	)
}

// CollectionTools returns one CollectionTool per collection name.
func CollectionTools(index *DocumentIndex, collections []string) []Tool {
	if index == nil {
		return nil
	}
	tools := make([]Tool, 0, len(collections))
	for _, c := range collections {
		if c = strings.TrimSpace(c); c != "" {
			tools = append(tools, CollectionTool(index, c))
		}
	}
	return tools
}
