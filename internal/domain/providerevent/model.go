package providerevent

import (
	"encoding/json"

	"github.com/carelink/carelink/internal/platform/apperr"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

type ObjectType string

const (
	ObjectMember       ObjectType = "member"
	ObjectOrganization ObjectType = "organization"
)

// Event is a provider-pushed change notification. Member and Organization
// are populated according to ObjectType.
type Event struct {
	EventID    string        `json:"event_id"`
	Action     Action        `json:"action"`
	ObjectType ObjectType    `json:"object_type"`
	Member     *MemberObject `json:"member,omitempty"`
	Org        *OrgObject    `json:"organization,omitempty"`
}

type MemberObject struct {
	MemberID       string `json:"member_id"`
	OrganizationID string `json:"organization_id"`
	EmailAddress   string `json:"email_address"`
}

type OrgObject struct {
	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
}

// ParseEvent decodes and strictly validates a webhook body. A shape that
// decodes but fails validation is a 400, never a partially applied event.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperr.Wrap(apperr.KindWebhookValidation, "malformed event body", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (e *Event) Validate() error {
	if e.EventID == "" {
		return apperr.New(apperr.KindWebhookValidation, "event_id is required")
	}
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return apperr.New(apperr.KindWebhookValidation, "unknown action")
	}
	switch e.ObjectType {
	case ObjectMember:
		if e.Member == nil || e.Member.MemberID == "" || e.Member.OrganizationID == "" {
			return apperr.New(apperr.KindWebhookValidation, "member events require member_id and organization_id")
		}
	case ObjectOrganization:
		if e.Org == nil || e.Org.OrganizationID == "" {
			return apperr.New(apperr.KindWebhookValidation, "organization events require organization_id")
		}
	default:
		return apperr.New(apperr.KindWebhookValidation, "unknown object_type")
	}
	return nil
}
