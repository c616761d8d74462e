package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelText  Channel = "text"
)

type RuleKind string

const (
	RuleReminder RuleKind = "reminder"
	RuleFollowUp RuleKind = "followup"
)

type TimeSpecKind string

const (
	SpecRelativeOffset TimeSpecKind = "relativeOffset"
	SpecFixedTimeOfDay TimeSpecKind = "fixedTimeOfDay"
)

type Direction string

const (
	// DirectionBefore fires ahead of the appointment (reminder side).
	DirectionBefore Direction = "before"
	// DirectionAfter fires once the appointment is in the past (follow-up side).
	DirectionAfter Direction = "after"
)

// TimeSpec is the tagged rule-timing variant. For relativeOffset rules the
// weeks/days/hours/minutes offset applies in absolute time; for fixedTimeOfDay
// rules Hour/Minute name a wall-clock firing time and weeks/days shift the
// matched appointment day.
type TimeSpec struct {
	Kind      TimeSpecKind `json:"kind"`
	Direction Direction    `json:"direction"`
	Weeks     int          `json:"weeks,omitempty"`
	Days      int          `json:"days,omitempty"`
	Hours     int          `json:"hours,omitempty"`
	Minutes   int          `json:"minutes,omitempty"`
	Hour      int          `json:"hour,omitempty"`
	Minute    int          `json:"minute,omitempty"`
}

// Rule drives one reminder or follow-up: when (Spec), to whom (the matched
// appointment's customer), through what (Channel + Template).
type Rule struct {
	ID           uuid.UUID
	Kind         RuleKind
	Spec         TimeSpec
	Channel      Channel
	Template     string
	StatusFilter AppointmentStatus
	// AfterCount, when set, restricts a follow-up to fire only when the
	// candidate is exactly the customer's Nth completed appointment.
	AfterCount *int
	CreatedAt  time.Time
}

type MessageTemplate struct {
	Name    string
	Channel Channel
	Subject string
	Body    string
}

type AppStatus string

const (
	AppPending   AppStatus = "pending"
	AppConnected AppStatus = "connected"
	AppFailed    AppStatus = "failed"
)

// AppInstance is one installed connected app: its declared app name, persisted
// configuration, and current connection status with a human-readable reason.
type AppInstance struct {
	ID        uuid.UUID
	AppName   string
	Config    json.RawMessage
	Status    AppStatus
	Reason    string
	CreatedAt time.Time
}
