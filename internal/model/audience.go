// internal/model/audience.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
)

type AudienceType string

const (
	AudienceAll    AudienceType = "all"
	AudienceSource AudienceType = "source"
	AudienceManual AudienceType = "manual"
)

// Audience is the tagged audience definition stored on a send.
//
//	{"type":"all"}
//	{"type":"source","source":"footer"}
//	{"type":"manual","emails":["a@x.com","b@y.org"]}
//
// Manual entries may also arrive as a single delimited blob in Raw.
type Audience struct {
	Type   AudienceType `json:"type"`
	Source string       `json:"source,omitempty"`
	Emails []string     `json:"emails,omitempty"`
	Raw    string       `json:"raw,omitempty"`
}

// Validate checks that the audience is well formed for its tag. It does not
// check individual manual addresses; malformed entries are dropped during
// resolution.
func (a Audience) Validate() error {
	switch a.Type {
	case AudienceAll:
		return nil
	case AudienceSource:
		if strings.TrimSpace(a.Source) == "" {
			return &AudienceError{Message: "source audience requires a non-empty source"}
		}
		return nil
	case AudienceManual:
		if len(a.Emails) == 0 && strings.TrimSpace(a.Raw) == "" {
			return &AudienceError{Message: "manual audience requires at least one email"}
		}
		return nil
	case "":
		return &AudienceError{Message: "audience type is required"}
	default:
		return &AudienceError{Message: "unknown audience type " + string(a.Type)}
	}
}

type AudienceError struct {
	Message string
}

func (e *AudienceError) Error() string { return e.Message }

func (a Audience) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Audience) Scan(src any) error {
	return scanJSON(src, a)
}

// Recipient is one resolved delivery target. SubscriberID is nil for manual
// addresses that are not existing subscribers.
type Recipient struct {
	SubscriberID *string `json:"subscriber_id"`
	Email        string  `json:"email"`
}
