package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PartSummary is the identity triple of a part. ID is the stable key;
// PartNumber and Name are display attributes and may change.
type PartSummary struct {
	ID         string `json:"id"`
	PartNumber string `json:"partNumber"`
	Name       string `json:"name"`
}

// ChildPartUsage is a child link as seen from its parent.
type ChildPartUsage struct {
	PartSummary
	Quantity int `json:"quantity"`
}

// PartDetails is the full record for one part, including its direct links.
type PartDetails struct {
	PartSummary
	Description string           `json:"description"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
	ParentCount int              `json:"parentCount"`
	ChildCount  int              `json:"childCount"`
	ParentParts []PartSummary    `json:"parentParts"`
	ChildParts  []ChildPartUsage `json:"childParts"`
}

// Summary returns the identity triple of the details record.
func (d *PartDetails) Summary() PartSummary {
	return d.PartSummary
}

// PartRecord is what the service returns after creating a part.
type PartRecord struct {
	PartSummary
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// AuditAction enumerates the audit log entry kinds.
type AuditAction string

const (
	ActionPartCreated AuditAction = "PART_CREATED"
	ActionPartUpdated AuditAction = "PART_UPDATED"
	ActionLinkCreated AuditAction = "BOM_LINK_CREATED"
	ActionLinkUpdated AuditAction = "BOM_LINK_UPDATED"
	ActionLinkRemoved AuditAction = "BOM_LINK_REMOVED"
)

// AuditLog is one append-only audit entry for a part.
type AuditLog struct {
	ID        string         `json:"id"`
	PartID    string         `json:"partId"`
	Action    AuditAction    `json:"action"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BomTreeNode is the recursive wire shape of a depth-bounded tree fetch.
type BomTreeNode struct {
	Part               PartSummary   `json:"part"`
	QuantityFromParent *int          `json:"quantityFromParent,omitempty"`
	HasChildren        bool          `json:"hasChildren"`
	Children           []BomTreeNode `json:"children"`
}

// BomTreeResponse wraps a tree fetch.
type BomTreeResponse struct {
	RootPartID     string      `json:"rootPartId"`
	RequestedDepth Depth       `json:"requestedDepth"`
	NodeLimit      int         `json:"nodeLimit"`
	NodeCount      int         `json:"nodeCount"`
	Tree           BomTreeNode `json:"tree"`
}

// BomLink is the payload for creating or updating a parent→child link.
type BomLink struct {
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
	Quantity int    `json:"quantity"`
}

// CreatePartRequest is the payload for creating a part.
// Empty optional fields are omitted from the request body.
type CreatePartRequest struct {
	Name        string `json:"name"`
	PartNumber  string `json:"partNumber,omitempty"`
	Description string `json:"description,omitempty"`
}

// Depth is the number of levels a tree fetch covers below its root.
// DepthAll requests the whole subtree.
type Depth int

const DepthAll Depth = -1

// Covers reports whether a node sitting at the given level of a response
// had its own children included, i.e. level is strictly above the boundary.
func (d Depth) Covers(level int) bool {
	return d == DepthAll || level < int(d)
}

func (d Depth) String() string {
	if d == DepthAll {
		return "all"
	}
	return strconv.Itoa(int(d))
}

// ParseDepth accepts a positive integer or "all".
func ParseDepth(s string) (Depth, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return DepthAll, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid depth %q: want a positive integer or \"all\"", s)
	}
	return Depth(n), nil
}

func (d Depth) MarshalJSON() ([]byte, error) {
	if d == DepthAll {
		return []byte(`"all"`), nil
	}
	return []byte(strconv.Itoa(int(d))), nil
}

func (d *Depth) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Depth(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("depth: %w", err)
	}
	parsed, err := ParseDepth(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
