// Package tools exposes the archive operations as an MCP tool surface:
// file.import, extract.text, llamaindex.query and index.search, each
// with a JSON-Schema declared input and output.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	archerrors "lifearch/internal/errors"
	"lifearch/internal/extract"
	"lifearch/internal/pipeline"
	"lifearch/internal/query"
	"lifearch/internal/search"
	"lifearch/internal/tracker"
	"lifearch/internal/version"
)

// Tool names.
const (
	ToolFileImport  = "file.import"
	ToolExtractText = "extract.text"
	ToolQuery       = "llamaindex.query"
	ToolSearch      = "index.search"
)

const (
	defaultQueryTopK   = 5
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// responseModes are the accepted synthesis modes for llamaindex.query.
var responseModes = map[string]bool{
	"tree_summarize":   true,
	"compact":          true,
	"refine":           true,
	"simple_summarize": true,
}

// Ingestor runs a file through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Server registers the archive tools on an MCP server.
type Server struct {
	mcp       *mcp.Server
	ingestor  Ingestor
	extractor *extract.Extractor
	tracker   tracker.Tracker
	engine    *query.Engine
	search    *search.Service
	logger    *slog.Logger
}

// Deps carries the tool server's dependencies.
type Deps struct {
	Ingestor  Ingestor
	Extractor *extract.Extractor
	Tracker   tracker.Tracker
	Engine    *query.Engine
	Search    *search.Service
	Logger    *slog.Logger
}

// NewServer creates the MCP tool server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		ingestor:  deps.Ingestor,
		extractor: deps.Extractor,
		tracker:   deps.Tracker,
		engine:    deps.Engine,
		search:    deps.Search,
		logger:    logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "lifearch",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server starting", "transport", "stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp server stopped with error", "error", err)
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolFileImport,
		Description: "Import a file into the archive: content-addressed storage, text extraction, chunking and indexing. Duplicate content is detected by hash and returns the existing document.",
	}, s.handleFileImport)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolExtractText,
		Description: "Extract text and format-level metadata from an archived document or an arbitrary file path.",
	}, s.handleExtractText)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolQuery,
		Description: "Answer a natural-language question over the archived documents using retrieval-augmented generation. Returns the answer with sources and a confidence score.",
	}, s.handleQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearch,
		Description: "Search the archive. Modes: semantic (vector similarity), keyword (BM25), hybrid (fused, default).",
	}, s.handleSearch)

	s.logger.Info("mcp tools registered", "count", 4)
}

// FileImportInput is the input schema for file.import.
type FileImportInput struct {
	Path      string         `json:"path" jsonschema:"absolute path of the file to import"`
	MIMEHint  string         `json:"mime_hint,omitempty" jsonschema:"optional MIME type override"`
	Tags      []string       `json:"tags,omitempty" jsonschema:"optional tags applied to the document"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"optional caller metadata, reserved fields are ignored"`
	SessionID string         `json:"session_id,omitempty" jsonschema:"optional session id for progress events"`
}

// FileImportOutput is the output schema for file.import.
type FileImportOutput struct {
	FileID   string `json:"file_id" jsonschema:"document id"`
	Hash     string `json:"hash" jsonschema:"content hash"`
	Size     int64  `json:"size" jsonschema:"file size in bytes"`
	MIMEType string `json:"mime_type" jsonschema:"detected MIME type"`
	Status   string `json:"status" jsonschema:"ready, duplicate or failed"`
	Deduped  bool   `json:"deduped,omitempty" jsonschema:"true when the content already existed"`
	Chunks   int    `json:"chunks" jsonschema:"number of indexed chunks"`
}

func (s *Server) handleFileImport(ctx context.Context, _ *mcp.CallToolRequest, input FileImportInput) (*mcp.CallToolResult, FileImportOutput, error) {
	if input.Path == "" {
		return nil, FileImportOutput{}, archerrors.New(archerrors.KindValidation, "path is required")
	}

	result, err := s.ingestor.Ingest(ctx, pipeline.Request{
		Path:      input.Path,
		MIMEHint:  input.MIMEHint,
		Tags:      input.Tags,
		Metadata:  input.Metadata,
		SessionID: input.SessionID,
	})
	if err != nil {
		return nil, FileImportOutput{}, err
	}

	return nil, FileImportOutput{
		FileID:   result.DocumentID,
		Hash:     result.Hash,
		Size:     result.Size,
		MIMEType: result.MIMEType,
		Status:   result.Status,
		Deduped:  result.Deduped,
		Chunks:   result.Chunks,
	}, nil
}

// ExtractTextInput is the input schema for extract.text.
type ExtractTextInput struct {
	FileID   string `json:"file_id,omitempty" jsonschema:"archived document id to extract from"`
	FilePath string `json:"file_path,omitempty" jsonschema:"file path to extract from when no file_id is given"`
	MIMEType string `json:"mime_type,omitempty" jsonschema:"optional MIME type override"`
	FileHash string `json:"file_hash,omitempty" jsonschema:"content hash resolved to an archived document when no file_id is given"`
}

// ExtractTextOutput is the output schema for extract.text.
type ExtractTextOutput struct {
	Text     string         `json:"text" jsonschema:"extracted text, may be empty for binary formats"`
	Method   string         `json:"method" jsonschema:"extraction method used"`
	Metadata map[string]any `json:"metadata" jsonschema:"format-level metadata"`
}

func (s *Server) handleExtractText(ctx context.Context, _ *mcp.CallToolRequest, input ExtractTextInput) (*mcp.CallToolResult, ExtractTextOutput, error) {
	path := input.FilePath
	mimeType := input.MIMEType

	fileID := input.FileID
	if path == "" && fileID == "" && input.FileHash != "" {
		ids, err := s.tracker.QueryByFilters(ctx, map[string]any{"file_hash": input.FileHash})
		if err != nil {
			return nil, ExtractTextOutput{}, err
		}
		if len(ids) == 0 {
			return nil, ExtractTextOutput{}, archerrors.Newf(archerrors.KindNotFound, "no document with hash %s", input.FileHash)
		}
		fileID = ids[0]
	}

	if path == "" {
		if fileID == "" {
			return nil, ExtractTextOutput{}, archerrors.New(archerrors.KindValidation, "file_id or file_path is required")
		}
		meta, err := s.tracker.GetFullMetadata(ctx, fileID)
		if err != nil {
			return nil, ExtractTextOutput{}, err
		}
		path, _ = meta["original_path"].(string)
		if mimeType == "" {
			mimeType, _ = meta["mime_type"].(string)
		}
		if path == "" {
			return nil, ExtractTextOutput{}, archerrors.Newf(archerrors.KindNotFound, "document %s has no recorded path", fileID)
		}
	}
	if mimeType == "" {
		mimeType = extract.DetectMIME(path)
	}

	result := s.extractor.Text(ctx, path, mimeType)
	meta := s.extractor.Metadata(ctx, path, mimeType)

	return nil, ExtractTextOutput{
		Text:     result.Text,
		Method:   string(result.Method),
		Metadata: meta,
	}, nil
}

// QueryInput is the input schema for llamaindex.query.
type QueryInput struct {
	Question       string         `json:"question" jsonschema:"natural-language question"`
	SimilarityTopK int            `json:"similarity_top_k,omitempty" jsonschema:"number of context chunks, default 5"`
	ResponseMode   string         `json:"response_mode,omitempty" jsonschema:"tree_summarize (default), compact, refine or simple_summarize"`
	Filters        map[string]any `json:"filters,omitempty" jsonschema:"optional metadata filters on retrieved documents"`
}

// QuerySource is one retrieved source in the query output.
type QuerySource struct {
	DocumentID string         `json:"document_id"`
	NodeID     string         `json:"node_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// QueryOutput is the output schema for llamaindex.query.
type QueryOutput struct {
	Answer     string         `json:"answer" jsonschema:"generated answer"`
	Confidence float64        `json:"confidence" jsonschema:"confidence score in [0,1]"`
	Sources    []QuerySource  `json:"sources" jsonschema:"context chunks used for the answer"`
	Method     string         `json:"method" jsonschema:"synthesis method"`
	Metadata   map[string]any `json:"metadata" jsonschema:"query statistics"`
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	if input.Question == "" {
		return nil, QueryOutput{}, archerrors.New(archerrors.KindValidation, "question is required")
	}
	mode := input.ResponseMode
	if mode == "" {
		mode = "tree_summarize"
	}
	if !responseModes[mode] {
		return nil, QueryOutput{}, archerrors.Newf(archerrors.KindValidation, "unknown response_mode: %s", mode)
	}
	topK := input.SimilarityTopK
	if topK <= 0 {
		topK = defaultQueryTopK
	}

	answer := s.engine.Ask(ctx, input.Question, topK, input.Filters)

	sources := make([]QuerySource, 0, len(answer.Sources))
	for _, src := range answer.Sources {
		sources = append(sources, QuerySource{
			DocumentID: src.DocumentID,
			NodeID:     src.NodeID,
			Text:       src.Text,
			Score:      src.Score,
			Metadata:   src.Metadata,
		})
	}

	metadata := map[string]any{
		"response_mode":   mode,
		"num_chunks_used": answer.NumChunksUsed,
	}
	for k, v := range answer.Statistics {
		metadata[k] = v
	}

	return nil, QueryOutput{
		Answer:     answer.Answer,
		Confidence: answer.ConfidenceScore,
		Sources:    sources,
		Method:     answer.Method,
		Metadata:   metadata,
	}, nil
}

// SearchInput is the input schema for index.search.
type SearchInput struct {
	Query          string         `json:"query" jsonschema:"search query"`
	Mode           string         `json:"mode,omitempty" jsonschema:"semantic, keyword or hybrid (default)"`
	Filters        map[string]any `json:"filters,omitempty" jsonschema:"optional metadata filters"`
	Limit          int            `json:"limit,omitempty" jsonschema:"maximum results, default 20"`
	Offset         int            `json:"offset,omitempty" jsonschema:"results to skip for pagination"`
	IncludeContent bool           `json:"include_content" jsonschema:"include chunk text in results"`
}

// SearchHit is one result in the search output.
type SearchHit struct {
	DocumentID string         `json:"document_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Score      float64        `json:"score"`
	SearchType string         `json:"search_type"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchOutput is the output schema for index.search.
type SearchOutput struct {
	Results     []SearchHit `json:"results"`
	Total       int         `json:"total"`
	QueryTimeMS int64       `json:"query_time_ms"`
	Error       string      `json:"error,omitempty"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	start := time.Now()

	mode := search.Mode(input.Mode)
	if input.Mode == "" {
		mode = search.ModeHybrid
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	results, err := s.search.Search(ctx, input.Query, mode, offset+limit, input.Filters)
	if err != nil {
		out := SearchOutput{
			Results:     []SearchHit{},
			QueryTimeMS: time.Since(start).Milliseconds(),
		}
		// Validation problems are reported in-band so clients can show
		// them next to an empty result list.
		if archerrors.IsKind(err, archerrors.KindValidation) {
			out.Error = archerrors.Message(err)
			return nil, out, nil
		}
		return nil, out, err
	}

	total := len(results)
	if offset >= total {
		results = nil
	} else {
		results = results[offset:]
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hit := SearchHit{
			DocumentID: r.DocumentID,
			NodeID:     r.NodeID,
			Score:      r.Score,
			SearchType: r.SearchType,
			Metadata:   r.Metadata,
		}
		if input.IncludeContent {
			hit.Content = r.Text
		}
		hits = append(hits, hit)
	}

	return nil, SearchOutput{
		Results:     hits,
		Total:       total,
		QueryTimeMS: time.Since(start).Milliseconds(),
	}, nil
}
