package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// AttemptArchiveStore is the narrow read access the archiver needs from the
// attempt store. The Postgres store satisfies it through its ListBefore
// method.
type AttemptArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.UpdateAttempt, error)
}

// ArchiveImpl implements domain.Archiver: accepted proofs become one JSON
// object each, old attempt history becomes monthly JSONL files.
//
// Deletion of archived attempts from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to run after the archive
// has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	attempts AttemptArchiveStore
	audit    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. attempts and audit may be nil when
// the deployment runs without PostgreSQL; ArchiveAttempts then reports an
// error and audit logging is skipped.
func NewArchiver(writer domain.BlobWriter, attempts AttemptArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		attempts: attempts,
		audit:    audit,
	}
}

// proofRecord is the stored form of one accepted proof. Raw carries the exact
// ABI bytes the proof server returned, so the destination-chain call can be
// replayed from the archive alone.
type proofRecord struct {
	FeedID      string        `json:"feed_id"`
	VotingRound uint64        `json:"voting_round"`
	TxHash      common.Hash   `json:"tx_hash"`
	MerkleProof []common.Hash `json:"merkle_proof"`
	Raw         []byte        `json:"raw"`
	ArchivedAt  time.Time     `json:"archived_at"`
}

// ArchiveProof uploads one accepted attestation proof to
// proofs/{feedID}/round-{votingRound}-{unix}.json and returns that path.
func (a *ArchiveImpl) ArchiveProof(ctx context.Context, feedID string, proof domain.AttestationProof) (string, error) {
	now := time.Now().UTC()
	rec := proofRecord{
		FeedID:      feedID,
		VotingRound: proof.VotingRound(),
		TxHash:      proof.Response.RequestBody.TransactionHash,
		MerkleProof: proof.MerkleProof,
		Raw:         proof.Raw,
		ArchivedAt:  now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive proof marshal: %w", err)
	}

	path := fmt.Sprintf("proofs/%s/round-%d-%d.json", feedID, rec.VotingRound, now.Unix())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive proof upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.proof", map[string]any{
			"feed_id":      feedID,
			"path":         path,
			"voting_round": rec.VotingRound,
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive proof audit log: %w", err)
		}
	}

	return path, nil
}

// ArchiveAttempts queries all attempts started before the cutoff, serializes
// them to JSONL, and uploads the file to attempts/YYYY-MM.jsonl. The archival
// event is recorded in the audit log and the count of archived records is
// returned.
func (a *ArchiveImpl) ArchiveAttempts(ctx context.Context, before time.Time) (int64, error) {
	if a.attempts == nil {
		return 0, fmt.Errorf("s3blob: archive attempts: no attempt store configured")
	}

	attempts, err := a.attempts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts query: %w", err)
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(attempts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts marshal: %w", err)
	}

	// Monthly batches grow without bound; past one part size the single-shot
	// request gives way to the multipart uploader.
	path := fmt.Sprintf("attempts/%s.jsonl", before.Format("2006-01"))
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts upload: %w", err)
	}

	count := int64(len(attempts))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.attempts", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive attempts audit log: %w", err)
		}
	}

	return count, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
