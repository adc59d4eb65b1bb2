package realtime

import (
	"time"
)

// domain objects carried by snapshots and change payloads.
// the storage layer owns persistence of these; the sync layer only transports them.

type BusinessProfile struct {
	UserId      Id     `json:"userId"`
	CompanyName string `json:"companyName"`
	Industry    string `json:"industry,omitempty"`
	Website     string `json:"website,omitempty"`
}

type InfluencerProfile struct {
	UserId Id     `json:"userId"`
	Handle string `json:"handle"`
	Bio    string `json:"bio,omitempty"`
}

type OfferStatus string

const (
	OfferStatusActive   OfferStatus = "active"
	OfferStatusPaused   OfferStatus = "paused"
	OfferStatusArchived OfferStatus = "archived"
)

type Offer struct {
	OfferId     Id          `json:"offerId"`
	BusinessId  Id          `json:"businessId"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	BudgetCents int64       `json:"budgetCents,omitempty"`
	Status      OfferStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusAccepted  ClaimStatus = "accepted"
	ClaimStatusCompleted ClaimStatus = "completed"
	ClaimStatusRejected  ClaimStatus = "rejected"
)

type Claim struct {
	ClaimId      Id          `json:"claimId"`
	OfferId      Id          `json:"offerId"`
	BusinessId   Id          `json:"businessId"`
	InfluencerId Id          `json:"influencerId"`
	Status       ClaimStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// a chat message between the two parties of a claim
type ChatMessage struct {
	MessageId Id        `json:"messageId"`
	ClaimId   Id        `json:"claimId"`
	SenderId  Id        `json:"senderId"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sentAt"`
}

type Notification struct {
	NotificationId Id        `json:"notificationId"`
	UserId         Id        `json:"userId"`
	Kind           string    `json:"kind"`
	Text           string    `json:"text"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

type SocialPlatform struct {
	PlatformId Id     `json:"platformId"`
	UserId     Id     `json:"userId"`
	Platform   string `json:"platform"`
	Handle     string `json:"handle"`
	Followers  int64  `json:"followers,omitempty"`
}

type DeliverableStatus string

const (
	DeliverableStatusDraft     DeliverableStatus = "draft"
	DeliverableStatusSubmitted DeliverableStatus = "submitted"
	DeliverableStatusApproved  DeliverableStatus = "approved"
)

type Deliverable struct {
	DeliverableId Id                `json:"deliverableId"`
	ClaimId       Id                `json:"claimId"`
	Url           string            `json:"url,omitempty"`
	Status        DeliverableStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
}
