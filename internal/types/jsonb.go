package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*Payload)(nil)
	_ driver.Valuer = Payload(nil)
	_ sql.Scanner   = (*TargetAudience)(nil)
	_ driver.Valuer = TargetAudience{}
	_ sql.Scanner   = (*NotificationSettings)(nil)
	_ driver.Valuer = NotificationSettings(nil)
)

// scanJSONB scans a JSONB database value into dest. It handles nil values,
// []byte, and string representations from different drivers.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	return scanJSONB(p, value)
}

// Value implements driver.Valuer. A nil payload is stored as an empty object.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner. NULL reads as the unfiltered audience.
func (a *TargetAudience) Scan(value any) error {
	if value == nil {
		*a = TargetAudience{}
		return nil
	}
	return scanJSONB(a, value)
}

// Value implements driver.Valuer.
func (a TargetAudience) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (s *NotificationSettings) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	return scanJSONB(s, value)
}

// Value implements driver.Valuer. Nil settings are stored as NULL.
func (s NotificationSettings) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}
