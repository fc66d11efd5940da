package domain

import "time"

// SourceItem is one row of the tracker CSV export, normalized by csvfile.
type SourceItem struct {
	ID           string
	Title        string
	Labels       string
	Type         string
	Description  string
	Estimate     *float64
	Priority     string
	CurrentState string
	RequestedBy  string
	CreatedAt    *time.Time
	AcceptedAt   *time.Time
	Deadline     *time.Time
	OwnedBy1     string
	OwnedBy2     string
	Comments     []string
}

// TargetItemRef ties a created board work item back to its tracker row.
type TargetItemRef struct {
	RemoteID string
	SourceID string
	Type     string
}

// FieldOp is one field assignment of a work item patch document. Path is the
// board field path ("/fields/System.Title"); the gateway owns the wire shape.
type FieldOp struct {
	Path  string
	Value any
}

// Relation is one link on a board work item.
type Relation struct {
	Rel string
	URL string
}

const (
	FailedCreation   = "Creation"
	FailedComment    = "Comment"
	FailedAttachment = "Attachment"
)

// FailedItem is one unresolved operation persisted to the ledger for a later
// retry pass. Creation entries carry the full source snapshot; Comment entries
// the target remote id plus the single comment text; Attachment entries the
// file path and the remote id it should be linked to.
type FailedItem struct {
	Reason         string     `json:"reason"`
	FailedType     string     `json:"failedType"`
	AttachmentPath string     `json:"attachmentPath,omitempty"`
	ID             string     `json:"id"`
	ParentID       string     `json:"parentId,omitempty"`
	Type           string     `json:"type,omitempty"`
	Title          string     `json:"title,omitempty"`
	Labels         string     `json:"labels,omitempty"`
	Description    string     `json:"description,omitempty"`
	Estimate       *float64   `json:"estimate,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	CurrentState   string     `json:"currentState,omitempty"`
	RequestedBy    string     `json:"requestedBy,omitempty"`
	Comment        string     `json:"comment,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	OwnedBy1       string     `json:"ownedBy1,omitempty"`
	OwnedBy2       string     `json:"ownedBy2,omitempty"`
	Comments       []string   `json:"comments,omitempty"`
}

// Snapshot captures everything needed to re-run a failed creation verbatim.
func Snapshot(item SourceItem, parentID, reason string) FailedItem {
	return FailedItem{
		Reason:       reason,
		FailedType:   FailedCreation,
		ID:           item.ID,
		ParentID:     parentID,
		Type:         item.Type,
		Title:        item.Title,
		Labels:       item.Labels,
		Description:  item.Description,
		Estimate:     item.Estimate,
		Priority:     item.Priority,
		CurrentState: item.CurrentState,
		RequestedBy:  item.RequestedBy,
		CreatedAt:    item.CreatedAt,
		AcceptedAt:   item.AcceptedAt,
		Deadline:     item.Deadline,
		OwnedBy1:     item.OwnedBy1,
		OwnedBy2:     item.OwnedBy2,
		Comments:     item.Comments,
	}
}

// Source rebuilds the source item from a creation snapshot.
func (f FailedItem) Source() SourceItem {
	return SourceItem{
		ID:           f.ID,
		Title:        f.Title,
		Labels:       f.Labels,
		Type:         f.Type,
		Description:  f.Description,
		Estimate:     f.Estimate,
		Priority:     f.Priority,
		CurrentState: f.CurrentState,
		RequestedBy:  f.RequestedBy,
		CreatedAt:    f.CreatedAt,
		AcceptedAt:   f.AcceptedAt,
		Deadline:     f.Deadline,
		OwnedBy1:     f.OwnedBy1,
		OwnedBy2:     f.OwnedBy2,
		Comments:     f.Comments,
	}
}
