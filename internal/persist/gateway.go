// Package persist promotes pipeline outputs to durable storage and records
// them exactly once per (owner, source location).
package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/blob"
	"github.com/fpang/holoscene/internal/jobs"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/metrics"
	"github.com/fpang/holoscene/internal/store"
)

const op = "persist"

// Gateway uploads assets and writes their artifact records.
type Gateway struct {
	storage blob.Storage
	records store.ArtifactStore
	fetcher *media.Fetcher
}

// NewGateway creates a Gateway. fetcher reads non-inline assets.
func NewGateway(storage blob.Storage, records store.ArtifactStore, fetcher *media.Fetcher) *Gateway {
	return &Gateway{storage: storage, records: records, fetcher: fetcher}
}

// ArtifactPath is the storage path for an artifact.
func ArtifactPath(ownerID, id, mimeType string) string {
	return ownerID + "/" + id + media.ExtForMime(mimeType)
}

// Existing returns the artifact already recorded for (ownerID, sourceKey),
// flagged as a duplicate, or nil if there is none. Callers that know the
// source key up front use it to skip regenerating an artifact.
func (g *Gateway) Existing(ctx context.Context, ownerID, sourceKey string) (*store.Artifact, error) {
	a, err := g.records.GetArtifact(ctx, jobs.ArtifactID(ownerID, sourceKey))
	if err != nil {
		return nil, g.storeError(ctx, "existence check", err)
	}
	if a != nil {
		a.IsDuplicate = true
	}
	return a, nil
}

// Persist stores asset durably under the deterministic id for
// (ownerID, sourceKey) and returns the artifact record.
//
// If a record already exists it is returned with IsDuplicate set and
// nothing is written. If the upload fails, the record points at the
// asset's provider URL and is marked Degraded; with no usable provider URL
// Persist fails with PersistFailed.
func (g *Gateway) Persist(ctx context.Context, ownerID, sourceKey string, asset *media.Asset, metadata map[string]string) (*store.Artifact, error) {
	if ownerID == "" || sourceKey == "" {
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "owner id and source location key are required")
	}
	if asset == nil {
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "no asset to persist")
	}

	start := time.Now()
	id := jobs.ArtifactID(ownerID, sourceKey)
	logger := log.With().Str("artifactId", id).Str("ownerId", ownerID).Logger()
	m := metrics.ForStage("persist")
	defer m.Flush()

	existing, err := g.records.GetArtifact(ctx, id)
	if err != nil {
		return nil, g.storeError(ctx, "existence check", err)
	}
	if existing != nil {
		existing.IsDuplicate = true
		logger.Info().Str("url", existing.DurableURL).Msg("Artifact already persisted, returning existing record")
		m.Count("Duplicate")
		return existing, nil
	}

	record := &store.Artifact{
		ID:        id,
		OwnerID:   ownerID,
		SourceKey: sourceKey,
		MimeType:  asset.MimeType,
		SizeBytes: asset.SizeBytes,
		Metadata:  metadata,
	}

	url, uploadErr := g.upload(ctx, ArtifactPath(ownerID, id, asset.MimeType), asset)
	if uploadErr != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext(op, ctx.Err())
		}
		origin := fallbackURL(asset)
		if origin == "" {
			m.Count("Failed")
			return nil, apperr.New(apperr.KindPersistFailed, op, "upload failed and no provider URL to fall back to", uploadErr)
		}
		logger.Warn().Err(uploadErr).Msg("Durable upload failed, falling back to provider URL")
		url = origin
		record.Degraded = true
		m.Count("Degraded")
	}
	record.DurableURL = url

	created, err := g.records.CreateArtifact(ctx, record)
	if err != nil {
		return nil, g.storeError(ctx, "create record", err)
	}
	if !created {
		winner, err := g.records.GetArtifact(ctx, id)
		if err != nil {
			return nil, g.storeError(ctx, "read concurrent record", err)
		}
		if winner == nil {
			return nil, apperr.Newf(apperr.KindPersistFailed, op, "record %s lost after conflicting create", id)
		}
		winner.IsDuplicate = true
		logger.Info().Msg("Concurrent persist won the race, returning its record")
		m.Count("Duplicate")
		return winner, nil
	}

	logger.Info().
		Str("url", url).
		Bool("degraded", record.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Artifact persisted")
	m.Duration("PersistLatency", time.Since(start)).
		Metric("PersistBytes", float64(asset.SizeBytes), metrics.UnitBytes).
		Count("Persisted")
	return record, nil
}

func (g *Gateway) upload(ctx context.Context, path string, asset *media.Asset) (string, error) {
	body, err := g.reader(ctx, asset)
	if err != nil {
		return "", err
	}
	if c, ok := body.(io.Closer); ok {
		defer c.Close()
	}
	contentType := asset.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := g.storage.Save(ctx, body, path, contentType); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	url, err := g.storage.MakePublic(ctx, path)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", path, err)
	}
	return url, nil
}

// reader returns a seekable body where possible; S3 uploads sign the
// payload and need to rewind it.
func (g *Gateway) reader(ctx context.Context, asset *media.Asset) (io.Reader, error) {
	if asset.Location == media.Inline && asset.Data != nil {
		return bytes.NewReader(asset.Data), nil
	}
	rc, err := g.fetcher.Open(ctx, asset)
	if err != nil {
		return nil, err
	}
	if rs, ok := rc.(io.ReadSeeker); ok {
		return rs, nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	return bytes.NewReader(data), nil
}

func (g *Gateway) storeError(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return apperr.FromContext(op, ctx.Err())
	}
	return apperr.New(apperr.KindPersistFailed, op, what, err)
}

// fallbackURL is the provider URL a degraded record may point at. Inline
// data URIs are never durable URLs.
func fallbackURL(asset *media.Asset) string {
	origin := asset.Origin
	if origin == "" && asset.Location == media.Remote {
		origin = asset.URI
	}
	if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
		return origin
	}
	return ""
}
