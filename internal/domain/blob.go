package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves accepted proofs and old attempt history to cold storage.
type Archiver interface {
	// ArchiveProof stores one accepted attestation proof and returns the
	// object path it was written to.
	ArchiveProof(ctx context.Context, feedID string, proof AttestationProof) (string, error)

	// ArchiveAttempts copies attempts older than the cutoff to storage and
	// returns how many were archived. It does not delete them.
	ArchiveAttempts(ctx context.Context, before time.Time) (int64, error)
}
