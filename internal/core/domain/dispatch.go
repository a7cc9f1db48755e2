package domain

import "time"

// AwbAssignment binds a carrier tracking number to an order. An assignment is
// active until a later assignment for the same order supersedes it.
type AwbAssignment struct {
	ID           string
	OrderID      string
	AwbNumber    string
	TrackingURL  string
	LabelURL     string
	AssignedAt   time.Time
	SupersededAt *time.Time
}

func (a AwbAssignment) Active() bool {
	return a.SupersededAt == nil
}
