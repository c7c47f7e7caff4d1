package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/ragfab/core/chunker"
	"github.com/ragfab/core/parser"
	"github.com/ragfab/core/store"
)

type fakeJobStore struct {
	job          *store.IngestionJob
	existingDoc  *store.Document
	progress     []int
	completedDoc uuid.UUID
	failed       bool
	failMsg      string
	embeddings   map[uuid.UUID][]float32
	images       []store.DocumentImage
}

func (f *fakeJobStore) ClaimNextJob(ctx context.Context, workerID string) (*store.IngestionJob, error) {
	job := f.job
	f.job = nil
	return job, nil
}

func (f *fakeJobStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobStore) CompleteJob(ctx context.Context, id uuid.UUID, documentID uuid.UUID) error {
	f.completedDoc = documentID
	return nil
}

func (f *fakeJobStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	f.failed = true
	f.failMsg = errMsg
	return nil
}

func (f *fakeJobStore) GetDocumentBySourcePath(ctx context.Context, universeID *uuid.UUID, sourcePath string) (*store.Document, error) {
	return f.existingDoc, nil
}

func (f *fakeJobStore) UpsertDocument(ctx context.Context, d store.Document) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (f *fakeJobStore) DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error {
	return nil
}

func (f *fakeJobStore) InsertChunks(ctx context.Context, documentID uuid.UUID, inputs []store.ChunkInput) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(inputs))
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids, nil
}

func (f *fakeJobStore) UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error {
	if f.embeddings == nil {
		f.embeddings = make(map[uuid.UUID][]float32)
	}
	f.embeddings[chunkID] = embedding
	return nil
}

func (f *fakeJobStore) InsertDocumentImage(ctx context.Context, img store.DocumentImage) (uuid.UUID, error) {
	f.images = append(f.images, img)
	return uuid.New(), nil
}

type fakeEmbedder struct {
	failTimes int
	calls     int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

// fakeParser stands in for the external parser service's HTTP client,
// reading the fixture file straight from disk as a single untitled page.
type fakeParser struct {
	images []parser.ExtractedImage
}

func (f *fakeParser) Parse(ctx context.Context, path string) (*parser.ParseResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &parser.ParseResult{
		Sections: []parser.Section{{Content: string(content), PageNumber: 1, Type: "body"}},
		Images:   f.images,
		Method:   "fake",
	}, nil
}

// fakeCaptioner stands in for *parser.ImageCaptioner without calling any
// vision provider.
type fakeCaptioner struct {
	calls int
}

func (f *fakeCaptioner) Caption(ctx context.Context, img parser.ExtractedImage) (*parser.ImageCaption, error) {
	f.calls++
	return &parser.ImageCaption{Description: "une image", OCRText: ""}, nil
}

func writeTextFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "document.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestRunOnceNoJobReturnsFalse(t *testing.T) {
	p := New(&fakeJobStore{}, &fakeParser{}, nil, chunker.Config{}, &fakeEmbedder{}, "worker-1")
	ran, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ran {
		t.Error("expected RunOnce to report no job claimed")
	}
}

func TestRunOnceCompletesJobAndReportsPhaseProgress(t *testing.T) {
	path := writeTextFixture(t, "Une procédure de sécurité pour le chariot élévateur.")
	fs := &fakeJobStore{
		job: &store.IngestionJob{ID: uuid.New(), SourcePath: path, Status: store.JobProcessing},
	}
	captioner := &fakeCaptioner{}
	fp := &fakeParser{images: []parser.ExtractedImage{{MIMEType: "image/png", PageNumber: 1, Width: 10, Height: 10}}}
	p := New(fs, fp, captioner, chunker.Config{}, &fakeEmbedder{}, "worker-1")

	ran, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ran {
		t.Fatal("expected a job to be claimed and run")
	}
	if fs.completedDoc == uuid.Nil {
		t.Error("expected the job to be marked complete with a document id")
	}
	if fs.failed {
		t.Errorf("did not expect the job to fail: %s", fs.failMsg)
	}
	if captioner.calls != 1 {
		t.Errorf("expected the extracted image to be captioned once, got %d calls", captioner.calls)
	}
	if len(fs.images) != 1 || fs.images[0].Description != "une image" {
		t.Errorf("expected one persisted image with the captioner's description, got %+v", fs.images)
	}

	last := fs.progress[len(fs.progress)-1]
	if last != progressPersistEnd {
		t.Errorf("final progress = %d, want %d", last, progressPersistEnd)
	}
}

func TestRunOnceSkipsReembeddingUnchangedDocument(t *testing.T) {
	content := "Le contenu du document ne change pas entre les deux passages."
	path := writeTextFixture(t, content)
	hash := hashContent(content + "\n\n")

	existingID := uuid.New()
	embedder := &fakeEmbedder{}
	fs := &fakeJobStore{
		job:         &store.IngestionJob{ID: uuid.New(), SourcePath: path},
		existingDoc: &store.Document{ID: existingID, SourcePath: path, ContentHash: hash},
	}
	p := New(fs, &fakeParser{}, nil, chunker.Config{}, embedder, "worker-1")

	ran, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ran {
		t.Fatal("expected a job to be claimed and run")
	}
	if embedder.calls != 0 {
		t.Errorf("expected no embedding calls for an unchanged document, got %d", embedder.calls)
	}
	if fs.completedDoc != existingID {
		t.Errorf("expected the job to complete against the existing document id %s, got %s", existingID, fs.completedDoc)
	}
}

func TestEmbedAllRetriesFailedBatch(t *testing.T) {
	path := writeTextFixture(t, "Contenu à ré-essayer en cas d'échec temporaire du service d'embedding.")
	fs := &fakeJobStore{
		job: &store.IngestionJob{ID: uuid.New(), SourcePath: path},
	}
	embedder := &fakeEmbedder{failTimes: 1}
	p := New(fs, &fakeParser{}, nil, chunker.Config{}, embedder, "worker-1")

	ran, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ran {
		t.Fatal("expected job to run")
	}
	if embedder.calls < 2 {
		t.Errorf("expected at least one retry, got %d calls", embedder.calls)
	}
}

func TestRunOnceFailsJobOnParseError(t *testing.T) {
	fs := &fakeJobStore{
		job: &store.IngestionJob{ID: uuid.New(), SourcePath: "/nonexistent/path/missing.txt"},
	}
	p := New(fs, &fakeParser{}, nil, chunker.Config{}, &fakeEmbedder{}, "worker-1")

	_, err := p.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected an error for a missing source file")
	}
	if !fs.failed {
		t.Error("expected the job to be marked failed")
	}
}
