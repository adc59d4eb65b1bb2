package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// wire envelope for both the push channel and the http fallback.
// `Data` stays raw so each side decodes only the kinds it handles.

type MessageType string

const (
	MessageTypeConnected    MessageType = "connected"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeSyncRequest  MessageType = "sync_request"
	MessageTypeSyncResponse MessageType = "sync_response"
	MessageTypeChanges      MessageType = "changes"
	MessageTypeChangesAck   MessageType = "changes_ack"
	MessageTypeUpdate       MessageType = "update"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

func EncodeMessage(messageType MessageType, data any) ([]byte, error) {
	message := &Message{
		Type: messageType,
	}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		message.Data = dataBytes
	}
	now := time.Now().UTC()
	message.Timestamp = &now
	return json.Marshal(message)
}

func DecodeMessage(messageBytes []byte) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(messageBytes, message); err != nil {
		return nil, err
	}
	if message.Type == "" {
		return nil, fmt.Errorf("message missing type")
	}
	return message, nil
}

type Role string

const (
	RoleBusiness   Role = "business"
	RoleInfluencer Role = "influencer"
)

type EntityType string

const (
	EntityTypeOffer        EntityType = "offer"
	EntityTypeClaim        EntityType = "claim"
	EntityTypeMessage      EntityType = "message"
	EntityTypeNotification EntityType = "notification"
	EntityTypeDeliverable  EntityType = "deliverable"
)

type ChangeAction string

const (
	ChangeActionCreate ChangeAction = "create"
	ChangeActionUpdate ChangeAction = "update"
	ChangeActionDelete ChangeAction = "delete"
)

// a single create/update/delete event for one domain entity.
// consumed exactly once by the change router, then discarded.
type EntityChange struct {
	EntityType        EntityType      `json:"entityType"`
	Action            ChangeAction    `json:"action"`
	EntityId          Id              `json:"entityId"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	OriginatingUserId Id              `json:"originatingUserId"`
}

func (self *EntityChange) Validate() error {
	switch self.EntityType {
	case EntityTypeOffer, EntityTypeClaim, EntityTypeMessage, EntityTypeNotification, EntityTypeDeliverable:
	default:
		return fmt.Errorf("unknown entity type: %s", self.EntityType)
	}
	switch self.Action {
	case ChangeActionCreate, ChangeActionUpdate, ChangeActionDelete:
	default:
		return fmt.Errorf("unknown change action: %s", self.Action)
	}
	if self.EntityId.IsZero() {
		return fmt.Errorf("missing entity id")
	}
	return nil
}

type ConnectedPayload struct {
	UserId   Id   `json:"userId"`
	UserType Role `json:"userType"`
}

type ChangesPayload struct {
	Changes []*EntityChange `json:"changes"`
}

type ChangesAckPayload struct {
	Count int `json:"count"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// point-in-time, user-scoped aggregate.
// business and influencer shapes are disjoint on the profile fields.
type Snapshot struct {
	BusinessProfile   *BusinessProfile   `json:"businessProfile,omitempty"`
	InfluencerProfile *InfluencerProfile `json:"influencerProfile,omitempty"`
	Offers            []*Offer           `json:"offers"`
	Claims            []*Claim           `json:"claims"`
	Notifications     []*Notification    `json:"notifications"`
	SocialPlatforms   []*SocialPlatform  `json:"socialPlatforms"`
	Deliverables      []*Deliverable     `json:"deliverables"`
	GeneratedAt       time.Time          `json:"generatedAt"`
}
