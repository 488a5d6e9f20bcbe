// Package ingestion implements the PDF (and DOCX/TXT) ingestion pipeline:
// decode uploaded documents, extract their text, ask the LLM to derive a
// course skeleton from the extracted text, persist that skeleton
// relationally, split the skeleton's topic content into chunks, embed and
// upsert the chunks into the vector store, and verify the result before
// reporting success.
//
// Each stage reports progress through the caller-supplied progress
// callback, the same shape the job queue (C11) threads through to a
// submitted [jobqueue.Job].
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/provider/embeddings"
	"github.com/professorai/tutorcore/pkg/provider/llm"
	"github.com/professorai/tutorcore/pkg/types"
)

// embedBatchSize caps how many chunk texts are embedded per call, matching
// the Embedding Client's (C1) documented per-call limit.
const embedBatchSize = 200

// SourceFile is one uploaded document awaiting ingestion.
type SourceFile struct {
	// Filename is used for content-type sniffing and as the chunk Source
	// metadata.
	Filename string

	// Base64Content is the raw file content, base64-encoded.
	Base64Content string
}

// Request describes one ingestion run.
type Request struct {
	Files       []SourceFile
	CourseTitle string
	Country     string
	TeacherID   string

	// Force is carried on the request but [Pipeline.Run] does not read it:
	// Run makes no duplicate-course check, and every run creates a new
	// course record with a fresh ID.
	Force bool
}

// Result is returned on successful ingestion.
type Result struct {
	CourseID     int
	ModuleCount  int
	TopicCount   int
	ChunkCount   int
	AlreadyExists bool
}

// courseSkeletonTool is offered to the LLM to produce the module/topic tree
// via structured tool-call arguments rather than free-form JSON the caller
// would need to parse and validate by hand.
var courseSkeletonTool = types.ToolDefinition{
	Name:        "emit_course_skeleton",
	Description: "Emit a structured course outline derived from the supplied material: a title and an ordered list of weekly modules, each containing an ordered list of topics with their own content summaries.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"modules": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"week":  map[string]any{"type": "integer"},
						"title": map[string]any{"type": "string"},
						"topics": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"title":   map[string]any{"type": "string"},
									"content": map[string]any{"type": "string"},
								},
								"required": []string{"title", "content"},
							},
						},
					},
					"required": []string{"week", "title", "topics"},
				},
			},
		},
		"required": []string{"title", "modules"},
	},
}

type skeletonTopic struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type skeletonModule struct {
	Week   int             `json:"week"`
	Title  string          `json:"title"`
	Topics []skeletonTopic `json:"topics"`
}

type skeleton struct {
	Title   string           `json:"title"`
	Modules []skeletonModule `json:"modules"`
}

// Pipeline runs ingestion requests end to end.
type Pipeline struct {
	cfg       config.IngestionConfig
	embedder  embeddings.Provider
	vectors   memory.VectorStore
	courses   memory.CourseStore
	llmClient llm.Provider
	metrics   *observe.Metrics
}

// New creates a Pipeline. metrics may be nil.
func New(cfg config.IngestionConfig, embedder embeddings.Provider, vectors memory.VectorStore, courses memory.CourseStore, llmClient llm.Provider, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{cfg: cfg, embedder: embedder, vectors: vectors, courses: courses, llmClient: llmClient, metrics: metrics}
}

// Progress reports a stage transition back to the caller (typically a
// jobqueue.Job's progress callback).
type Progress func(pct int, message string)

// Run executes every ingestion stage in order. On any stage failure it
// attempts to roll back the relational course record (chunks already
// written to the vector store are left in place and are not removed by a
// later run) and returns a non-nil error.
func (p *Pipeline) Run(ctx context.Context, req Request, progress Progress) (result *Result, err error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.IngestionDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	if len(req.Files) == 0 {
		return nil, fmt.Errorf("ingestion: no files supplied")
	}

	progress(0, "decoding uploaded files")
	decoded := make([]DecodedFile, 0, len(req.Files))
	for _, f := range req.Files {
		if p.cfg.MaxFileSizeBytes > 0 {
			raw := len(f.Base64Content) * 3 / 4
			if int64(raw) > p.cfg.MaxFileSizeBytes {
				return nil, fmt.Errorf("ingestion: %q exceeds max file size", f.Filename)
			}
		}
		df, err := Decode(f.Filename, f.Base64Content)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, df)
	}

	progress(10, "extracting text")
	var combined string
	sourceTexts := make(map[string]string, len(decoded))
	for _, df := range decoded {
		text, err := ExtractText(df)
		if err != nil {
			return nil, err
		}
		sourceTexts[df.Filename] = text
		if combined != "" {
			combined += "\n\n"
		}
		combined += text
	}
	if combined == "" {
		return nil, fmt.Errorf("ingestion: no extractable text in supplied files")
	}

	progress(30, "generating course outline")
	sk, err := p.generateSkeleton(ctx, req.CourseTitle, req.Country, combined)
	if err != nil {
		return nil, fmt.Errorf("ingestion: generate course skeleton: %w", err)
	}

	progress(45, "persisting course structure")
	course := memory.Course{
		Title:     sk.Title,
		TeacherID: req.TeacherID,
	}
	for _, m := range sk.Modules {
		mod := memory.Module{Week: m.Week, Title: m.Title}
		for i, t := range m.Topics {
			mod.Topics = append(mod.Topics, memory.Topic{Title: t.Title, Content: t.Content, OrderIndex: i})
		}
		course.Modules = append(course.Modules, mod)
	}

	courseID, err := p.courses.CreateCourse(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("ingestion: create course: %w", err)
	}

	// Roll back the relational record on any failure from this point on;
	// chunks already upserted to the vector store are not removed.
	defer func() {
		if err != nil {
			_ = p.courses.DeleteCourse(context.Background(), courseID)
		}
	}()

	progress(55, "splitting into chunks")
	var records []memory.ChunkRecord
	for _, m := range course.Modules {
		for _, t := range m.Topics {
			pieces := SplitIntoChunks(t.Content, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
			for i, piece := range pieces {
				for _, payload := range memory.SplitChunk(piece) {
					records = append(records, memory.ChunkRecord{
						CourseID:    courseID,
						CourseName:  course.Title,
						Module:      m.Title,
						Week:        m.Week,
						Title:       memory.TitleForPart(t.Title, i),
						Source:      req.Files[0].Filename,
						Type:        "course_content",
						Content:     payload,
						ChunkIndex:  i,
						ContentHash: contentHash(payload),
					})
				}
			}
		}
	}

	progress(65, "embedding chunks")
	if err = p.embedAndAttach(ctx, records); err != nil {
		return nil, fmt.Errorf("ingestion: embed chunks: %w", err)
	}

	progress(80, "upserting chunks")
	written, upsertErr := p.vectors.Upsert(ctx, records)
	if p.metrics != nil {
		p.metrics.ChunksIngested.Add(ctx, int64(written))
	}
	if upsertErr != nil {
		err = fmt.Errorf("ingestion: upsert chunks (%d written): %w", written, upsertErr)
		return nil, err
	}

	progress(95, "verifying")
	has, err := p.vectors.HasCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("ingestion: verify course: %w", err)
	}
	if !has {
		err = fmt.Errorf("ingestion: course %d not found in vector store after upsert", courseID)
		return nil, err
	}

	progress(100, "done")
	return &Result{
		CourseID:    courseID,
		ModuleCount: len(course.Modules),
		TopicCount:  topicCount(course),
		ChunkCount:  len(records),
	}, nil
}

func topicCount(c memory.Course) int {
	n := 0
	for _, m := range c.Modules {
		n += len(m.Topics)
	}
	return n
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// embedAndAttach embeds every record's content in batches of embedBatchSize
// and writes the resulting vector back onto each record.
func (p *Pipeline) embedAndAttach(ctx context.Context, records []memory.ChunkRecord) error {
	for start := 0; start < len(records); start += embedBatchSize {
		end := min(start+embedBatchSize, len(records))
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = records[i].Content
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i := start; i < end; i++ {
			records[i].Embedding = vecs[i-start]
		}
	}
	return nil
}

// generateSkeleton asks the LLM to derive a course outline from text via the
// emit_course_skeleton tool, parses its arguments, and validates the result
// is non-empty.
func (p *Pipeline) generateSkeleton(ctx context.Context, titleHint, country, text string) (*skeleton, error) {
	const maxSourceChars = 40000
	if len(text) > maxSourceChars {
		text = text[:maxSourceChars]
	}

	sysPrompt := "You are a curriculum designer. Read the supplied course material and call emit_course_skeleton exactly once with a complete, well-organized module/topic breakdown. Do not respond with prose."
	userContent := text
	if titleHint != "" {
		userContent = fmt.Sprintf("Suggested course title: %s\n\n%s", titleHint, text)
	}
	if country != "" {
		userContent = fmt.Sprintf("Target audience locale: %s\n\n%s", country, userContent)
	}

	resp, err := p.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Messages:     []types.Message{{Role: "user", Content: userContent}},
		Tools:        []types.ToolDefinition{courseSkeletonTool},
		Temperature:  0.2,
	})
	if err != nil {
		return nil, err
	}

	for _, call := range resp.ToolCalls {
		if call.Name != courseSkeletonTool.Name {
			continue
		}
		var sk skeleton
		if err := json.Unmarshal([]byte(call.Arguments), &sk); err != nil {
			return nil, fmt.Errorf("parse skeleton arguments: %w", err)
		}
		if sk.Title == "" || len(sk.Modules) == 0 {
			return nil, fmt.Errorf("model returned an empty course skeleton")
		}
		if titleHint != "" {
			sk.Title = titleHint
		}
		return &sk, nil
	}
	return nil, fmt.Errorf("model did not call %s", courseSkeletonTool.Name)
}
