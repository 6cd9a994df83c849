package issue

import (
	"time"

	"civicflow/identity"
)

// View is the staff-facing projection of an issue: everything, including
// assignment fields.
type View struct {
	ID                 string       `json:"id"`
	ReporterID         string       `json:"reporter_id"`
	Title              string       `json:"title"`
	Description        *string      `json:"description,omitempty"`
	Category           Category     `json:"category"`
	Status             Status       `json:"status"`
	Priority           int          `json:"priority"`
	Location           *Location    `json:"location,omitempty"`
	Attachments        []Attachment `json:"attachments"`
	AssignedTo         *string      `json:"assigned_to,omitempty"`
	AssignedDepartment *string      `json:"assigned_department,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	ResolvedAt         *time.Time   `json:"resolved_at,omitempty"`
}

// PublicView is the community-listing projection: reporter identity and
// assignment fields are stripped.
type PublicView struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	Category    Category     `json:"category"`
	Status      Status       `json:"status"`
	Priority    int          `json:"priority"`
	Location    *Location    `json:"location,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// UpdateView is an audit row projected for a role. InternalNotes is nil
// for everyone but staff.
type UpdateView struct {
	ID            string    `json:"id"`
	IssueID       string    `json:"issue_id"`
	UserID        string    `json:"user_id"`
	OldStatus     *Status   `json:"old_status,omitempty"`
	NewStatus     Status    `json:"new_status"`
	Notes         *string   `json:"notes,omitempty"`
	InternalNotes *string   `json:"internal_notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ViewOf builds the staff-and-owner projection of an issue.
func ViewOf(is Issue) View {
	return View{
		ID:                 is.ID,
		ReporterID:         is.ReporterID,
		Title:              is.Title,
		Description:        is.Description,
		Category:           is.Category,
		Status:             is.Status,
		Priority:           is.Priority,
		Location:           is.Location,
		Attachments:        is.Attachments,
		AssignedTo:         is.AssignedTo,
		AssignedDepartment: is.AssignedDepartment,
		CreatedAt:          is.CreatedAt,
		UpdatedAt:          is.UpdatedAt,
		ResolvedAt:         is.ResolvedAt,
	}
}

// PublicViewOf projects an issue for the community listing. This is a
// pure function; the stored record is never mutated.
func PublicViewOf(is Issue) PublicView {
	return PublicView{
		ID:          is.ID,
		Title:       is.Title,
		Description: is.Description,
		Category:    is.Category,
		Status:      is.Status,
		Priority:    is.Priority,
		Location:    is.Location,
		Attachments: is.Attachments,
		CreatedAt:   is.CreatedAt,
		UpdatedAt:   is.UpdatedAt,
		ResolvedAt:  is.ResolvedAt,
	}
}

// FilterForRole projects a result set for an actor. Staff roles see
// every issue with all fields; citizens see only their own reports.
func FilterForRole(issues []Issue, actor identity.Identity) []View {
	views := make([]View, 0, len(issues))
	for _, is := range issues {
		if !actor.IsStaff() && is.ReporterID != actor.ActorID {
			continue
		}
		views = append(views, ViewOf(is))
	}
	return views
}

// UpdateViewsForRole projects audit rows for an actor, stripping
// internal notes from everyone but staff.
func UpdateViewsForRole(updates []Update, actor identity.Identity) []UpdateView {
	views := make([]UpdateView, 0, len(updates))
	for _, up := range updates {
		v := UpdateView{
			ID:        up.ID,
			IssueID:   up.IssueID,
			UserID:    up.UserID,
			OldStatus: up.OldStatus,
			NewStatus: up.NewStatus,
			Notes:     up.Notes,
			CreatedAt: up.CreatedAt,
		}
		if actor.IsStaff() {
			v.InternalNotes = up.InternalNotes
		}
		views = append(views, v)
	}
	return views
}
