package types

import "time"

// StartLaunchRequest opens a new launch on the collector.
type StartLaunchRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	StartTime   time.Time   `json:"startTime"`
	Mode        LaunchMode  `json:"mode,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// FinishLaunchRequest closes a launch.
type FinishLaunchRequest struct {
	EndTime time.Time `json:"endTime"`
}

// StartItemRequest opens a suite or step under a launch or a parent item.
type StartItemRequest struct {
	LaunchID    string      `json:"launchUuid"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	StartTime   time.Time   `json:"startTime"`
	Type        ItemKind    `json:"type"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// UpdateItemRequest changes the mutable fields of a started item.
type UpdateItemRequest struct {
	Description string      `json:"description,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// FinishItemRequest closes a suite or step.
type FinishItemRequest struct {
	LaunchID string    `json:"launchUuid"`
	EndTime  time.Time `json:"endTime"`
	Status   Status    `json:"status"`
}

// LogRequest attaches a log entry to an item.
type LogRequest struct {
	LaunchID string    `json:"launchUuid"`
	ItemID   string    `json:"itemUuid"`
	Time     time.Time `json:"time"`
	Level    LogLevel  `json:"level"`
	Message  string    `json:"message"`
}

// EntryCreated is the collector response to a start call.
type EntryCreated struct {
	ID string `json:"id"`
}

// OperationCompleted is the collector response to finish and update calls.
type OperationCompleted struct {
	Message string `json:"message"`
}
