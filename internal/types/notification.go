package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType classifies a notification. It drives both the per-recipient
// preference filter and the quiet-hours exemption.
type NotificationType string

const (
	NotificationTypeWeeklyOffer   NotificationType = "weekly_offer"
	NotificationTypeEventReminder NotificationType = "event_reminder"
	NotificationTypeAppUpdate     NotificationType = "app_update"
	NotificationTypeCustom        NotificationType = "custom"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeWeeklyOffer, NotificationTypeEventReminder,
		NotificationTypeAppUpdate, NotificationTypeCustom:
		return true
	}
	return false
}

// PreferenceKey returns the NotificationSettings field that gates this type.
// Custom notifications have no preference key.
func (t NotificationType) PreferenceKey() string {
	switch t {
	case NotificationTypeWeeklyOffer:
		return "weekly_offers"
	case NotificationTypeEventReminder:
		return "event_reminders"
	case NotificationTypeAppUpdate:
		return "app_updates"
	}
	return ""
}

// NotificationStatus is the lifecycle state of a ScheduledNotification.
//
//	pending -> claimed -> sent | failed | skipped
//	claimed -> pending            (quiet-hours deferral releases the claim)
//	failed  -> claimed            (only while NextAttemptAt is set)
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusClaimed NotificationStatus = "claimed"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
	StatusSkipped NotificationStatus = "skipped"
)

// Valid reports whether s is a known status.
func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the processor has written an outcome.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSkipped
}

// Platform is the device platform of a push token.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// Payload is the opaque key/value data carried through to the client.
type Payload map[string]any

// Clone returns a shallow copy so callers can merge keys without aliasing.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+3)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// TargetAudience selects recipients. The zero value (and the JSON string
// "all") means every active token. A non-nil but empty UserIDs selects nobody.
type TargetAudience struct {
	UserIDs  []string `json:"user_ids,omitempty"`
	Platform Platform `json:"platform,omitempty"`
}

// AudienceAll is the unfiltered audience.
func AudienceAll() TargetAudience { return TargetAudience{} }

// IsAll reports whether no filter is applied.
func (a TargetAudience) IsAll() bool {
	return a.UserIDs == nil && a.Platform == ""
}

// MarshalJSON writes "all" for the unfiltered audience and an object otherwise.
// user_ids is always emitted so an explicit empty list survives a round trip.
func (a TargetAudience) MarshalJSON() ([]byte, error) {
	if a.IsAll() {
		return []byte(`"all"`), nil
	}
	return json.Marshal(struct {
		UserIDs  []string `json:"user_ids"`
		Platform Platform `json:"platform,omitempty"`
	}{UserIDs: a.UserIDs, Platform: a.Platform})
}

// UnmarshalJSON accepts "all", null, or {user_ids?, platform?}.
func (a *TargetAudience) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = TargetAudience{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s != "all" {
			return fmt.Errorf("target_audience: unsupported value %q", s)
		}
		*a = TargetAudience{}
		return nil
	}
	var obj struct {
		UserIDs  []string `json:"user_ids"`
		Platform Platform `json:"platform"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("target_audience: %w", err)
	}
	if obj.Platform != "" && !obj.Platform.Valid() {
		return fmt.Errorf("target_audience: unsupported platform %q", obj.Platform)
	}
	*a = TargetAudience{UserIDs: obj.UserIDs, Platform: obj.Platform}
	return nil
}

// NotificationSettings holds per-type opt-in flags for a device.
// Keys are NotificationType.PreferenceKey values.
type NotificationSettings map[string]any

// Allows reports whether a notification of type t may reach this device.
// Devices without stored settings receive everything; otherwise the matching
// flag must be present and true. Custom notifications always pass.
func (s NotificationSettings) Allows(t NotificationType) bool {
	if len(s) == 0 {
		return true
	}
	key := t.PreferenceKey()
	if key == "" {
		return true
	}
	v, ok := s[key].(bool)
	return ok && v
}

// ScheduledNotification is a notification persisted ahead of its delivery time.
type ScheduledNotification struct {
	ID             string             `json:"id"`
	Type           NotificationType   `json:"type"`
	Title          string             `json:"title"`
	Body           string             `json:"body"`
	Data           Payload            `json:"data,omitempty"`
	ScheduledFor   time.Time          `json:"scheduled_for"`
	TargetAudience TargetAudience     `json:"target_audience"`
	Status         NotificationStatus `json:"status"`
	SentCount      int                `json:"sent_count"`
	FailedCount    int                `json:"failed_count"`
	Error          *string            `json:"error,omitempty"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	Attempts       int                `json:"attempts"`
	NextAttemptAt  *time.Time         `json:"next_attempt_at,omitempty"`
	ClaimedBy      *string            `json:"-"`
	LeaseExpiresAt *time.Time         `json:"-"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Sent reports whether the processor has finished with this row.
// Kept for clients that still read the legacy boolean.
func (n ScheduledNotification) Sent() bool {
	return n.Status.IsTerminal() && n.NextAttemptAt == nil
}

// MarshalJSON adds the derived "sent" flag.
func (n ScheduledNotification) MarshalJSON() ([]byte, error) {
	type alias ScheduledNotification
	return json.Marshal(struct {
		alias
		Sent bool `json:"sent"`
	}{alias: alias(n), Sent: n.Sent()})
}

// ScheduledNotificationFilter narrows List queries.
type ScheduledNotificationFilter struct {
	Status NotificationStatus
	Type   NotificationType
	Limit  int
}

// Outcome is the terminal result written back to a claimed row.
type Outcome struct {
	Status        NotificationStatus
	SentCount     int
	FailedCount   int
	Error         string
	ProcessedAt   time.Time
	NextAttemptAt *time.Time
}

// PushToken is a device registration.
type PushToken struct {
	UserID               string               `json:"user_id"`
	Token                string               `json:"token"`
	Platform             Platform             `json:"platform"`
	NotificationSettings NotificationSettings `json:"notification_settings,omitempty"`
	IsActive             bool                 `json:"is_active"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// DeliveryFailure is a per-recipient record of a rejected or undeliverable push.
type DeliveryFailure struct {
	ScheduledNotificationID *string   `json:"scheduled_notification_id,omitempty"`
	UserID                  string    `json:"user_id"`
	Token                   string    `json:"token"`
	Reason                  string    `json:"reason"`
	FailedAt                time.Time `json:"failed_at"`
}

// WeeklyOffer is a promotional week maintained by the menu service.
type WeeklyOffer struct {
	ID        string            `json:"id"`
	Theme     string            `json:"theme"`
	StartDate time.Time         `json:"start_date"`
	EndDate   time.Time         `json:"end_date"`
	IsActive  bool              `json:"is_active"`
	Items     []WeeklyOfferItem `json:"items"`
}

// WeeklyOfferItem is a dish featured during a promotional week.
type WeeklyOfferItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// RestaurantEvent is a dated event maintained by the events service.
type RestaurantEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	EventDate time.Time `json:"event_date"`
}
