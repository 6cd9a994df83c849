package issue

import "time"

// Status is the lifecycle state of an issue. Status only changes through
// the transition engine; see status.go for the legality table.
type Status string

const (
	StatusSubmitted    Status = "submitted"
	StatusAcknowledged Status = "acknowledged"
	StatusAssigned     Status = "assigned"
	StatusInProgress   Status = "in_progress"
	StatusOnHold       Status = "on_hold"
	StatusResolved     Status = "resolved"
)

// Category is fixed at creation; reclassification is not supported.
type Category string

const (
	CategoryPothole           Category = "pothole"
	CategoryWaterLeak         Category = "water_leak"
	CategoryBrokenStreetlight Category = "broken_streetlight"
	CategoryGraffiti          Category = "graffiti"
	CategoryIllegalDumping    Category = "illegal_dumping"
	CategoryTrafficSignal     Category = "traffic_signal"
	CategoryNoiseComplaint    Category = "noise_complaint"
	CategoryTreeMaintenance   Category = "tree_maintenance"
)

// Priority bounds. Assigned by the classifier at creation, overridable
// by staff afterwards.
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
)

// AttachmentKind distinguishes photo and video uploads.
type AttachmentKind string

const (
	AttachmentPhoto AttachmentKind = "photo"
	AttachmentVideo AttachmentKind = "video"
)

// Attachment references an uploaded file by its stable URL. The core
// never handles bytes; uploads happen against the object store and the
// resulting URLs are appended here.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
}

// Location is an all-or-nothing triple; partially specified coordinates
// are rejected at creation.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Issue mirrors the issues table.
type Issue struct {
	ID                 string
	ReporterID         string
	Title              string
	Description        *string
	Category           Category
	Status             Status
	Priority           int
	Location           *Location
	Attachments        []Attachment
	AssignedTo         *string
	AssignedDepartment *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ResolvedAt         *time.Time
}

// Update is one append-only audit row. OldStatus is nil only for the
// creation event; rows are never mutated or deleted.
type Update struct {
	ID            string
	IssueID       string
	UserID        string
	OldStatus     *Status
	NewStatus     Status
	Notes         *string
	InternalNotes *string
	CreatedAt     time.Time
}

// Filters narrows List results. Zero values mean "no constraint".
type Filters struct {
	ReporterID  string
	Status      Status
	Category    Category
	HasLocation *bool
}

// ValidCategory reports whether c belongs to the fixed category set.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPothole, CategoryWaterLeak, CategoryBrokenStreetlight,
		CategoryGraffiti, CategoryIllegalDumping, CategoryTrafficSignal,
		CategoryNoiseComplaint, CategoryTreeMaintenance:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusSubmitted, StatusAcknowledged, StatusAssigned,
		StatusInProgress, StatusOnHold, StatusResolved:
		return true
	}
	return false
}

// ValidPriority reports whether p is within the 1..3 priority scale.
func ValidPriority(p int) bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func validAttachmentKind(k AttachmentKind) bool {
	return k == AttachmentPhoto || k == AttachmentVideo
}
