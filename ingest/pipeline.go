// Package ingest runs a claimed job through parse, chunk, embed, and
// persist phases, reporting progress at each phase boundary and leaving
// the job completed or failed in the store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ragfab/core/chunker"
	"github.com/ragfab/core/parser"
	"github.com/ragfab/core/store"
)

// Embedder is the subset of llm.Provider the embed phase depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageCaptioner describes an extracted image for the image-extraction
// phase; satisfied by *parser.ImageCaptioner.
type ImageCaptioner interface {
	Caption(ctx context.Context, img parser.ExtractedImage) (*parser.ImageCaption, error)
}

// JobStore is the subset of *store.Store the pipeline depends on.
type JobStore interface {
	ClaimNextJob(ctx context.Context, workerID string) (*store.IngestionJob, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	CompleteJob(ctx context.Context, id uuid.UUID, documentID uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	GetDocumentBySourcePath(ctx context.Context, universeID *uuid.UUID, sourcePath string) (*store.Document, error)
	UpsertDocument(ctx context.Context, d store.Document) (uuid.UUID, error)
	DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error
	InsertChunks(ctx context.Context, documentID uuid.UUID, inputs []store.ChunkInput) ([]uuid.UUID, error)
	UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error
	InsertDocumentImage(ctx context.Context, img store.DocumentImage) (uuid.UUID, error)
}

// Phase boundaries, in percent of total job progress.
const (
	progressParseStart = 0
	progressParseEnd   = 20
	progressImagesEnd  = 30
	progressChunkEnd   = 45
	progressEmbedEnd   = 85
	progressPersistEnd = 100
	embedBatchSize     = 20
	embedRetryAttempts = 3
)

// Pipeline runs claimed ingestion jobs to completion. captioner is optional:
// when nil, the image-extraction phase is skipped and a document's images
// are simply never captioned (vision is an optional provider, §6).
type Pipeline struct {
	store     JobStore
	parser    parser.Parser
	captioner ImageCaptioner
	chunkCfg  chunker.Config
	embedder  Embedder
	workerID  string
}

// New returns a Pipeline. workerID identifies this worker in claimed job
// rows, so a crashed worker's claim can be distinguished from a live one.
// captioner may be nil to skip the image-extraction phase entirely.
func New(s JobStore, p parser.Parser, captioner ImageCaptioner, chunkCfg chunker.Config, embedder Embedder, workerID string) *Pipeline {
	return &Pipeline{store: s, parser: p, captioner: captioner, chunkCfg: chunkCfg, embedder: embedder, workerID: workerID}
}

// RunOnce claims the next pending job, if any, and runs it to completion.
// It returns (false, nil) when there was no job to claim.
func (p *Pipeline) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimNextJob(ctx, p.workerID)
	if err != nil {
		return false, fmt.Errorf("ingest: claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := p.run(ctx, job); err != nil {
		slog.Error("ingest: job failed", "job_id", job.ID, "source_path", job.SourcePath, "error", err)
		if failErr := p.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			slog.Error("ingest: failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return true, err
	}
	return true, nil
}

func (p *Pipeline) run(ctx context.Context, job *store.IngestionJob) error {
	result, err := p.parser.Parse(ctx, job.SourcePath)
	if err != nil {
		return fmt.Errorf("parse phase: %w", err)
	}
	if err := p.store.UpdateJobProgress(ctx, job.ID, progressParseEnd); err != nil {
		return fmt.Errorf("parse phase: recording progress: %w", err)
	}

	rawContent := concatenateSections(result.Sections)
	contentHash := hashContent(rawContent)

	existing, err := p.store.GetDocumentBySourcePath(ctx, job.UniverseID, job.SourcePath)
	if err != nil {
		return fmt.Errorf("parse phase: checking existing document: %w", err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		if err := p.store.CompleteJob(ctx, job.ID, existing.ID); err != nil {
			return fmt.Errorf("completing unchanged job: %w", err)
		}
		return nil
	}

	documentID, err := p.store.UpsertDocument(ctx, store.Document{
		UniverseID:  job.UniverseID,
		Title:       titleFromPath(job.SourcePath),
		SourcePath:  job.SourcePath,
		Content:     rawContent,
		ContentHash: contentHash,
		Metadata:    result.Metadata,
	})
	if err != nil {
		return fmt.Errorf("parse phase: upserting document: %w", err)
	}

	if existing != nil {
		if err := p.store.DeleteChunksForDocument(ctx, documentID); err != nil {
			return fmt.Errorf("parse phase: clearing stale chunks: %w", err)
		}
	}

	if err := p.captionImages(ctx, documentID, result.Images); err != nil {
		return fmt.Errorf("image extraction phase: %w", err)
	}
	if err := p.store.UpdateJobProgress(ctx, job.ID, progressImagesEnd); err != nil {
		return fmt.Errorf("image extraction phase: recording progress: %w", err)
	}

	c, err := chunker.New(chunkConfigFor(p.chunkCfg, job))
	if err != nil {
		return fmt.Errorf("chunk phase: %w", err)
	}
	inputs := c.Chunk(result.Sections, rawContent)
	if err := p.store.UpdateJobProgress(ctx, job.ID, progressChunkEnd); err != nil {
		return fmt.Errorf("chunk phase: recording progress: %w", err)
	}

	chunkIDs, err := p.store.InsertChunks(ctx, documentID, inputs)
	if err != nil {
		return fmt.Errorf("chunk phase: persisting chunk skeleton: %w", err)
	}

	if err := p.embedAll(ctx, job, inputs, chunkIDs); err != nil {
		return fmt.Errorf("embed phase: %w", err)
	}
	if err := p.store.UpdateJobProgress(ctx, job.ID, progressEmbedEnd); err != nil {
		return fmt.Errorf("embed phase: recording progress: %w", err)
	}

	if err := p.store.UpdateJobProgress(ctx, job.ID, progressPersistEnd); err != nil {
		return fmt.Errorf("persist phase: recording progress: %w", err)
	}
	if err := p.store.CompleteJob(ctx, job.ID, documentID); err != nil {
		return fmt.Errorf("persist phase: completing job: %w", err)
	}
	return nil
}

// embedAll batches the content of every non-parent chunk into
// embedBatchSize groups (parent chunks are stored without an embedding),
// making up to embedRetryAttempts attempts per batch before giving up on
// the whole job.
func (p *Pipeline) embedAll(ctx context.Context, job *store.IngestionJob, inputs []store.ChunkInput, chunkIDs []uuid.UUID) error {
	var toEmbed []int
	for i, in := range inputs {
		if in.ChunkLevel != store.ChunkLevelParent {
			toEmbed = append(toEmbed, i)
		}
	}

	for start := 0; start < len(toEmbed); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(toEmbed) {
			end = len(toEmbed)
		}

		texts := make([]string, end-start)
		for i, idx := range toEmbed[start:end] {
			texts[i] = inputs[idx].Content
		}

		var embeddings [][]float32
		var err error
		for attempt := 0; attempt < embedRetryAttempts; attempt++ {
			embeddings, err = p.embedder.Embed(ctx, texts)
			if err == nil {
				break
			}
			slog.Warn("ingest: embed batch failed, retrying", "job_id", job.ID, "attempt", attempt, "error", err)
		}
		if err != nil {
			return fmt.Errorf("embedding batch [%d:%d] after %d attempts: %w", start, end, embedRetryAttempts, err)
		}
		if len(embeddings) != len(texts) {
			return fmt.Errorf("embedding batch [%d:%d]: got %d vectors for %d inputs", start, end, len(embeddings), len(texts))
		}

		for i, emb := range embeddings {
			id := chunkIDs[toEmbed[start+i]]
			if err := p.store.UpdateEmbedding(ctx, id, emb); err != nil {
				return fmt.Errorf("storing embedding for chunk %s: %w", id, err)
			}
		}

		progress := progressChunkEnd + (progressEmbedEnd-progressChunkEnd)*(end)/len(toEmbed)
		if err := p.store.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			slog.Warn("ingest: failed to report embed progress", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// captionImages describes each extracted image with the vision LLM and
// persists the result, linked to documentID and the image's page number so
// chunks built from that page associate with it transitively (§4.E.3). A
// captioning failure for one image is logged and skipped rather than
// failing the whole job — a missing caption is not worth re-running
// ingestion over.
func (p *Pipeline) captionImages(ctx context.Context, documentID uuid.UUID, images []parser.ExtractedImage) error {
	if p.captioner == nil {
		return nil
	}
	for _, img := range images {
		caption, err := p.captioner.Caption(ctx, img)
		if err != nil {
			slog.Warn("ingest: captioning image failed, skipping", "document_id", documentID, "page", img.PageNumber, "error", err)
			continue
		}
		if _, err := p.store.InsertDocumentImage(ctx, store.DocumentImage{
			DocumentID:  documentID,
			PageNumber:  img.PageNumber,
			MIMEType:    img.MIMEType,
			Description: caption.Description,
			OCRText:     caption.OCRText,
			Width:       img.Width,
			Height:      img.Height,
		}); err != nil {
			return fmt.Errorf("persisting image on page %d: %w", img.PageNumber, err)
		}
	}
	return nil
}

func chunkConfigFor(base chunker.Config, job *store.IngestionJob) chunker.Config {
	cfg := base
	cfg.Title = titleFromPath(job.SourcePath)
	if job.ChunkerVariant != "" {
		cfg.Strategy = chunker.Strategy(job.ChunkerVariant)
	}
	return cfg
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func concatenateSections(sections []parser.Section) string {
	var out string
	for _, s := range sections {
		out += s.Content + "\n\n"
	}
	return out
}

func titleFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
