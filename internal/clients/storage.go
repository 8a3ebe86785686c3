package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// StorageRecord is what post-processing hands to each storage sink.
type StorageRecord struct {
	JobID         string
	CorrelationID string
	File          domain.FileContext
	Route         domain.RouteDecision
	Result        domain.ProcessingResult
	Decision      domain.PostProcessDecision
}

// StorageSink is one post-processing storage destination. Partial failure is
// tolerated by the caller; Store only reports its own outcome.
type StorageSink interface {
	Name() domain.StorageDestination
	Store(ctx context.Context, record StorageRecord) error
}

// maxStoredContentBytes truncates extracted content before relational storage.
const maxStoredContentBytes = 64 * 1024

// PostgresSink writes a ProcessedArtifact row per completed job.
type PostgresSink struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewPostgresSink creates the relational storage sink.
func NewPostgresSink(db *gorm.DB, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: logger}
}

// Name implements StorageSink.
func (s *PostgresSink) Name() domain.StorageDestination {
	return domain.StorePostgres
}

// Store implements StorageSink.
func (s *PostgresSink) Store(ctx context.Context, record StorageRecord) error {
	content := record.Result.ExtractedContent
	if len(content) > maxStoredContentBytes {
		content = content[:maxStoredContentBytes]
	}

	artifacts := ""
	if len(record.Result.Artifacts) > 0 {
		data, err := json.Marshal(record.Result.Artifacts)
		if err != nil {
			return fmt.Errorf("encoding artifacts: %w", err)
		}
		artifacts = string(data)
	}

	row := &models.ProcessedArtifact{
		JobID:            record.JobID,
		CorrelationID:    record.CorrelationID,
		Filename:         record.File.Filename,
		MimeType:         record.File.MimeType,
		TargetService:    string(record.Route.TargetService),
		ExtractedContent: content,
		Artifacts:        artifacts,
		DurationMs:       record.Result.DurationMs,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("storing artifact row: %w", err)
	}
	return nil
}

// QdrantSink upserts extracted content into a vector collection through
// Qdrant's HTTP API. Embedding happens service-side.
type QdrantSink struct {
	*serviceClient
	collection string
}

// NewQdrantSink creates the vector storage sink.
func NewQdrantSink(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *QdrantSink {
	return &QdrantSink{
		serviceClient: newServiceClient("qdrant", cfg, apiKey, breakers, logger),
		collection:    "uom_documents",
	}
}

// Name implements StorageSink.
func (s *QdrantSink) Name() domain.StorageDestination {
	return domain.StoreQdrant
}

// Store implements StorageSink.
func (s *QdrantSink) Store(ctx context.Context, record StorageRecord) error {
	if record.Result.ExtractedContent == "" {
		return nil
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id": record.JobID,
			"payload": map[string]any{
				"filename":      record.File.Filename,
				"mimeType":      record.File.MimeType,
				"content":       record.Result.ExtractedContent,
				"correlationId": record.CorrelationID,
			},
		}},
	}
	if err := s.postJSON(ctx, "/collections/"+s.collection+"/points", body, nil); err != nil {
		return fmt.Errorf("upserting qdrant points: %w", err)
	}
	return nil
}

// GraphRAGSink pushes extracted content into the knowledge graph ingestion
// endpoint.
type GraphRAGSink struct {
	*serviceClient
}

// NewGraphRAGSink creates the knowledge-graph storage sink.
func NewGraphRAGSink(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *GraphRAGSink {
	return &GraphRAGSink{serviceClient: newServiceClient("graphrag", cfg, apiKey, breakers, logger)}
}

// Name implements StorageSink.
func (s *GraphRAGSink) Name() domain.StorageDestination {
	return domain.StoreGraphRAG
}

// Store implements StorageSink.
func (s *GraphRAGSink) Store(ctx context.Context, record StorageRecord) error {
	body := map[string]any{
		"documentId":    record.JobID,
		"filename":      record.File.Filename,
		"mimeType":      record.File.MimeType,
		"content":       record.Result.ExtractedContent,
		"metadata":      record.Result.Metadata,
		"correlationId": record.CorrelationID,
	}
	if err := s.postJSON(ctx, "/v1/ingest", body, nil); err != nil {
		return fmt.Errorf("ingesting into graphrag: %w", err)
	}
	return nil
}
