package domain

// NotificationKind labels why participants are being contacted.
type NotificationKind string

const (
	NotificationEdited             NotificationKind = "activity_edited"
	NotificationCancelled          NotificationKind = "activity_cancelled"
	NotificationAttendanceReminder NotificationKind = "attendance_reminder"
)

// Notification is the payload handed to the dispatch collaborator. Delivery
// is fire-and-forget; a dispatch failure never fails the mutation that
// produced it.
type Notification struct {
	Kind           NotificationKind
	ActivityIDs    []string
	SeriesID       string
	Scope          EditScope
	ParticipantIDs []string
}
