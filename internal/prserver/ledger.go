package prserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// TrackedPRStore is the subset of the store the ledger needs.
type TrackedPRStore interface {
	EnsureTrackedPR(ctx context.Context, pr *models.TrackedPR) (bool, error)
}

// Ledger is an offline PR service. It records the submitted document in the
// local tracked_prs table, one row per repository, so development and demo
// setups run the full submission flow without a remote service.
type Ledger struct {
	store TrackedPRStore
}

func NewLedger(s TrackedPRStore) *Ledger {
	return &Ledger{store: s}
}

func (l *Ledger) Ensure(ctx context.Context, id models.RepoIdentity, text string) (models.EnsureResult, error) {
	pr := &models.TrackedPR{
		RepoKey:    id.Key(),
		CourseCode: id.CourseCode,
		CourseName: id.CourseName,
		RepoType:   id.RepoType,
		Document:   text,
		Revision:   textRevision(text),
	}
	created, err := l.store.EnsureTrackedPR(ctx, pr)
	if err != nil {
		return models.EnsureResult{}, fmt.Errorf("ensure local pr for %s: %w", id.Key(), err)
	}
	status := "updated"
	if created {
		status = "created"
	}
	return models.EnsureResult{PRRef: pr.PRRef, Created: created, Status: status}, nil
}

// textRevision hashes canonical document text the same way
// document.Revision does.
func textRevision(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
