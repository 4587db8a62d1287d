// Package store is the record store gateway for Photo records.
//
// Every mutation carries its precondition: Create only succeeds against an
// absent or PENDING record, and Update only against a record in the expected
// status. A failed precondition is reported as *photo.ConflictError, which
// callers treat as a benign duplicate rather than a failure. Fields other
// than the processing status are write-once.
//
// DynamoStore persists to a single DynamoDB table keyed PK=PHOTO#{id},
// SK=META. MemoryStore holds records in process for local runs and tests.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// Gateway defines the persistence interface for Photo records.
// Each method is safe for concurrent use.
type Gateway interface {
	// Create writes p with status RUNNING. It succeeds when no record exists
	// for p.ID or the existing record is still PENDING; identity fields
	// already present on a PENDING record are kept. Returns the stored record.
	Create(ctx context.Context, p *photo.Photo) (*photo.Photo, error)

	// Update applies patch if the record's current status equals expect and
	// returns the updated record. Fields that already hold a value keep it.
	Update(ctx context.Context, id string, patch photo.Patch, expect photo.Status) (*photo.Photo, error)

	// Get retrieves a record by ID. Returns nil, nil if not found.
	Get(ctx context.Context, id string) (*photo.Photo, error)
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// checkCreate validates a record handed to Create.
func checkCreate(p *photo.Photo) error {
	if p == nil || p.ID == "" {
		return &photo.ValidationError{Field: "id", Reason: "required"}
	}
	if p.ProcessingStatus != photo.StatusRunning {
		return fmt.Errorf("create %s: status must be %s, got %q", p.ID, photo.StatusRunning, p.ProcessingStatus)
	}
	return nil
}

// checkUpdate rejects patches that would move status backwards or sideways.
func checkUpdate(id string, patch photo.Patch, expect photo.Status) error {
	if id == "" {
		return &photo.ValidationError{Field: "id", Reason: "required"}
	}
	if !expect.CanTransition(patch.Status) {
		return fmt.Errorf("update %s: illegal transition %s -> %s", id, expect, patch.Status)
	}
	return nil
}
