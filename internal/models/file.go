package models

import (
	"fmt"
	"strings"
)

// RelationKind is the discriminant of a FileRef relation.
type RelationKind string

const (
	RelationDraft      RelationKind = "draft"
	RelationExpense    RelationKind = "expense"
	RelationSettlement RelationKind = "settlement"
)

// Relation points a FileRef at the entity it belongs to.
type Relation struct {
	Kind RelationKind
	ID   string
}

func DraftRelation(id string) Relation      { return Relation{Kind: RelationDraft, ID: id} }
func ExpenseRelation(id string) Relation    { return Relation{Kind: RelationExpense, ID: id} }
func SettlementRelation(id string) Relation { return Relation{Kind: RelationSettlement, ID: id} }

// String renders the relation as "kind:id".
func (r Relation) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseRelation parses the "kind:id" form produced by String.
func ParseRelation(s string) (Relation, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Relation{}, fmt.Errorf("malformed relation: %q", s)
	}
	switch k := RelationKind(kind); k {
	case RelationDraft, RelationExpense, RelationSettlement:
		return Relation{Kind: k, ID: id}, nil
	default:
		return Relation{}, fmt.Errorf("unknown relation kind: %q", kind)
	}
}

// FileRef is a stored pointer to an attachment archived in the files channel.
type FileRef struct {
	// ID is the unique identifier for the reference (UUID format).
	ID string

	// FileID is the platform's handle for the file content.
	FileID string

	// ArchiveMessageID is the id of the forwarded copy in the files channel.
	ArchiveMessageID int64

	// UploaderID is the member who sent the attachment.
	UploaderID int64

	// MIME is the attachment's content type.
	MIME string

	// Size is the attachment size in bytes, when known.
	Size int64

	// Relation is the entity owning the file.
	Relation Relation

	// UploadedAt is the Unix timestamp when the reference was stored.
	UploadedAt int64
}

// IsImage reports whether the file is rendered as an image.
func (f FileRef) IsImage() bool {
	return f.MIME == "image/jpeg" || f.MIME == "image/png"
}
