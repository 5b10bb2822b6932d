package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
)

// ParticipantUUIDTable de-identifies an upstream contact identifier into a
// stable, opaque participant UUID, grounded on
// original_source/src/common/configuration.py's UUIDTableConfiguration
// (a separate credentialed lookup table service, kept out of process here
// per spec.md's Non-goal on concrete upstream clients — this interface is
// the seam, backed in tests/CLI by the Postgres implementation below).
type ParticipantUUIDTable interface {
	// UUIDForIdentifier returns the stable participant UUID for a contact
	// identifier, creating and persisting a new mapping on first use.
	UUIDForIdentifier(ctx context.Context, identifier string) (string, error)
}

// PostgresUUIDTable is the Postgres-backed ParticipantUUIDTable used when no
// external de-identification service is configured.
type PostgresUUIDTable struct {
	db dbQuerier
}

// dbQuerier is the minimal slice of pgxpool.Pool this table needs, kept as
// an interface so tests can supply a fake without a live database.
type dbQuerier interface {
	QueryRowUUID(ctx context.Context, identifier string) (string, error)
	InsertUUID(ctx context.Context, identifier, participantUUID string) error
}

// NewPostgresUUIDTable wraps a dbQuerier.
func NewPostgresUUIDTable(db dbQuerier) *PostgresUUIDTable {
	return &PostgresUUIDTable{db: db}
}

// UUIDForIdentifier looks up an existing mapping, or mints and persists a
// fresh UUIDv7 if this is the identifier's first appearance.
func (t *PostgresUUIDTable) UUIDForIdentifier(ctx context.Context, identifier string) (string, error) {
	if identifier == "" {
		return "", pipelineerr.New(pipelineerr.KindValidation, "identity.UUIDForIdentifier",
			fmt.Errorf("empty identifier"))
	}
	existing, err := t.db.QueryRowUUID(ctx, identifier)
	if err == nil && existing != "" {
		return existing, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", pipelineerr.New(pipelineerr.KindTransientBackend, "identity.UUIDForIdentifier", err)
	}
	newUUID := id.String()
	if err := t.db.InsertUUID(ctx, identifier, newUUID); err != nil {
		return "", pipelineerr.New(pipelineerr.KindTransientBackend, "identity.UUIDForIdentifier", err)
	}
	return newUUID, nil
}

// FallbackIdentifier returns the upstream record's own response id, behind
// an "avf-participant-uuid-unknown-" prefix, as a stand-in participant
// identifier, used when ignore_invalid_identifiers
// configuration permits ingesting a message whose contact identifier failed
// validation rather than dropping it outright.
func FallbackIdentifier(responseID string) string {
	return "avf-participant-uuid-unknown-" + responseID
}
