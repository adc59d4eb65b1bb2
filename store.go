package realtime

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Store is the storage collaborator the sync layer reads from.
// Profile lookups return (nil, nil) when the user has no profile yet,
// so that "no data" stays distinguishable from a storage error.
type Store interface {
	BusinessProfile(ctx context.Context, userId Id) (*BusinessProfile, error)
	InfluencerProfile(ctx context.Context, userId Id) (*InfluencerProfile, error)

	OffersByBusiness(ctx context.Context, businessId Id) ([]*Offer, error)
	ActiveOffers(ctx context.Context) ([]*Offer, error)

	ClaimsByBusiness(ctx context.Context, businessId Id) ([]*Claim, error)
	ClaimsByInfluencer(ctx context.Context, influencerId Id) ([]*Claim, error)

	NotificationsByUser(ctx context.Context, userId Id) ([]*Notification, error)
	SocialPlatformsByUser(ctx context.Context, userId Id) ([]*SocialPlatform, error)
	DeliverablesByClaim(ctx context.Context, claimId Id) ([]*Deliverable, error)
}

// OwnerResolver answers the change router's ownership lookups.
// Implementations may be slow (remote storage); callers treat every
// lookup as an asynchronous dependency.
type OwnerResolver interface {
	// the business that owns the offer
	OfferOwner(ctx context.Context, offerId Id) (Id, error)
	// both parties of the claim
	ClaimParties(ctx context.Context, claimId Id) (businessId Id, influencerId Id, err error)
	// both parties, resolved through the message's parent claim
	MessageParties(ctx context.Context, messageId Id) (businessId Id, influencerId Id, err error)
	// the business the notification is addressed to
	NotificationOwner(ctx context.Context, notificationId Id) (Id, error)
	// the influencer holding the deliverable's parent claim
	DeliverableParties(ctx context.Context, deliverableId Id) (businessId Id, influencerId Id, err error)
}
