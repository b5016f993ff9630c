// Package indexer rebuilds the vector collections that back retrieval.
// Each tenant profile owns one collection; a rebuild replaces it atomically.
package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rehberai/internal/tenant"
	"rehberai/pkg/ai"
	"rehberai/pkg/domain"
	"rehberai/pkg/storage"
	"rehberai/pkg/store"
)

const s3Prefix = "s3://"

// Config holds indexer construction parameters.
type Config struct {
	Store        store.Store
	Objects      storage.ObjectStore
	Embedder     ai.Embedder
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Concurrency  int
}

// Indexer parses source documents into chunks, embeds them and replaces the
// profile collection in the store.
type Indexer struct {
	store        store.Store
	objects      storage.ObjectStore
	embedder     ai.Embedder
	chunkSize    int
	chunkOverlap int
	batchSize    int
	concurrency  int
}

// New constructs an indexer. Objects may be nil when no s3:// sources are
// configured.
func New(cfg Config) (*Indexer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 150
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Indexer{
		store:        cfg.Store,
		objects:      cfg.Objects,
		embedder:     cfg.Embedder,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		batchSize:    batchSize,
		concurrency:  concurrency,
	}, nil
}

// BuildOrRefresh rebuilds the vector collection of one tenant profile from
// its configured source paths plus any registered docs. Sources that fail to
// load or parse are logged and skipped; the rebuild fails only when no
// source yields any chunk.
func (ix *Indexer) BuildOrRefresh(ctx context.Context, tenantID string, profile tenant.ProfileConfig) (int, error) {
	sources, err := ix.collectSources(tenantID, profile)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, fmt.Errorf("no sources configured for tenant %q profile %q", tenantID, profile.Key)
	}

	var payloads []chunkPayload
	for _, source := range sources {
		data, err := ix.loadSource(ctx, source)
		if err != nil {
			slog.Warn("skipping unreadable source", "source", source, "tenant_id", tenantID, "profile_key", profile.Key, "error", err)
			continue
		}
		parsed, err := parseAndChunk(source, data, ix.chunkSize, ix.chunkOverlap)
		if err != nil {
			slog.Warn("skipping unparseable source", "source", source, "tenant_id", tenantID, "profile_key", profile.Key, "error", err)
			continue
		}
		name := filepath.Base(source)
		for _, payload := range parsed {
			payload.Metadata["source"] = name
			payloads = append(payloads, payload)
		}
	}
	if len(payloads) == 0 {
		return 0, fmt.Errorf("no chunks produced for tenant %q profile %q", tenantID, profile.Key)
	}

	embeddings, err := ix.embedAll(ctx, payloads)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	chunks := make([]domain.Chunk, len(payloads))
	for i, payload := range payloads {
		chunks[i] = domain.Chunk{
			ID:         uuid.NewString(),
			Collection: profile.VectorCollection,
			TenantID:   tenantID,
			ProfileKey: profile.Key,
			Content:    payload.Content,
			Metadata:   payload.Metadata,
		}
	}
	if err := ix.store.ReplaceChunks(profile.VectorCollection, tenantID, profile.Key, chunks, embeddings); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}
	slog.Info("collection rebuilt",
		"tenant_id", tenantID,
		"profile_key", profile.Key,
		"collection", profile.VectorCollection,
		"chunks", len(chunks),
	)
	return len(chunks), nil
}

func (ix *Indexer) collectSources(tenantID string, profile tenant.ProfileConfig) ([]string, error) {
	seen := make(map[string]bool)
	var sources []string
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		sources = append(sources, path)
	}
	for _, path := range profile.SourcePaths {
		add(path)
	}
	docs, err := ix.store.ListDocs(tenantID, profile.Key)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	for _, doc := range docs {
		add(doc.Filepath)
	}
	return sources, nil
}

func (ix *Indexer) loadSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, s3Prefix) {
		if ix.objects == nil {
			return nil, fmt.Errorf("object storage not configured")
		}
		rc, err := ix.objects.Get(ctx, strings.TrimPrefix(source, s3Prefix))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return os.ReadFile(source)
}

func (ix *Indexer) embedAll(ctx context.Context, payloads []chunkPayload) ([][]float32, error) {
	embeddings := make([][]float32, len(payloads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for start := 0; start < len(payloads); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(payloads) {
			end = len(payloads)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, payload := range payloads[start:end] {
				texts = append(texts, payload.Content)
			}
			out, err := ix.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d, want %d", len(out), len(texts))
			}
			copy(embeddings[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}
