package realtime

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MemoryStore is an in-memory Store, OwnerResolver and CredentialStore.
// It stands in for the storage collaborator in the daemon and in tests.
type MemoryStore struct {
	mutex sync.Mutex

	businessProfiles   map[Id]*BusinessProfile
	influencerProfiles map[Id]*InfluencerProfile
	offers             map[Id]*Offer
	claims             map[Id]*Claim
	messages           map[Id]*ChatMessage
	notifications      map[Id]*Notification
	socialPlatforms    map[Id]*SocialPlatform
	deliverables       map[Id]*Deliverable

	// opaque session cookie value -> identity
	cookieIdentities map[string]*Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		businessProfiles:   map[Id]*BusinessProfile{},
		influencerProfiles: map[Id]*InfluencerProfile{},
		offers:             map[Id]*Offer{},
		claims:             map[Id]*Claim{},
		messages:           map[Id]*ChatMessage{},
		notifications:      map[Id]*Notification{},
		socialPlatforms:    map[Id]*SocialPlatform{},
		deliverables:       map[Id]*Deliverable{},
		cookieIdentities:   map[string]*Identity{},
	}
}

func (self *MemoryStore) PutBusinessProfile(profile *BusinessProfile) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.businessProfiles[profile.UserId] = profile
}

func (self *MemoryStore) PutInfluencerProfile(profile *InfluencerProfile) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.influencerProfiles[profile.UserId] = profile
}

func (self *MemoryStore) PutOffer(offer *Offer) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.offers[offer.OfferId] = offer
}

func (self *MemoryStore) RemoveOffer(offerId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.offers, offerId)
}

func (self *MemoryStore) PutClaim(claim *Claim) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.claims[claim.ClaimId] = claim
}

func (self *MemoryStore) PutMessage(message *ChatMessage) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.messages[message.MessageId] = message
}

func (self *MemoryStore) PutNotification(notification *Notification) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.notifications[notification.NotificationId] = notification
}

func (self *MemoryStore) PutSocialPlatform(platform *SocialPlatform) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.socialPlatforms[platform.PlatformId] = platform
}

func (self *MemoryStore) PutDeliverable(deliverable *Deliverable) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.deliverables[deliverable.DeliverableId] = deliverable
}

func (self *MemoryStore) PutSessionCookie(value string, identity *Identity) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.cookieIdentities[value] = identity
}

// Store

func (self *MemoryStore) BusinessProfile(ctx context.Context, userId Id) (*BusinessProfile, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.businessProfiles[userId], nil
}

func (self *MemoryStore) InfluencerProfile(ctx context.Context, userId Id) (*InfluencerProfile, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.influencerProfiles[userId], nil
}

func (self *MemoryStore) OffersByBusiness(ctx context.Context, businessId Id) ([]*Offer, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	offers := []*Offer{}
	for _, offer := range self.offers {
		if offer.BusinessId == businessId {
			offers = append(offers, offer)
		}
	}
	sortByCreatedAt(offers, func(offer *Offer) int64 {
		return offer.CreatedAt.UnixNano()
	})
	return offers, nil
}

func (self *MemoryStore) ActiveOffers(ctx context.Context) ([]*Offer, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	offers := []*Offer{}
	for _, offer := range self.offers {
		if offer.Status == OfferStatusActive {
			offers = append(offers, offer)
		}
	}
	sortByCreatedAt(offers, func(offer *Offer) int64 {
		return offer.CreatedAt.UnixNano()
	})
	return offers, nil
}

func (self *MemoryStore) ClaimsByBusiness(ctx context.Context, businessId Id) ([]*Claim, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	claims := []*Claim{}
	for _, claim := range self.claims {
		if claim.BusinessId == businessId {
			claims = append(claims, claim)
		}
	}
	sortByCreatedAt(claims, func(claim *Claim) int64 {
		return claim.CreatedAt.UnixNano()
	})
	return claims, nil
}

func (self *MemoryStore) ClaimsByInfluencer(ctx context.Context, influencerId Id) ([]*Claim, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	claims := []*Claim{}
	for _, claim := range self.claims {
		if claim.InfluencerId == influencerId {
			claims = append(claims, claim)
		}
	}
	sortByCreatedAt(claims, func(claim *Claim) int64 {
		return claim.CreatedAt.UnixNano()
	})
	return claims, nil
}

func (self *MemoryStore) NotificationsByUser(ctx context.Context, userId Id) ([]*Notification, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	notifications := []*Notification{}
	for _, notification := range self.notifications {
		if notification.UserId == userId {
			notifications = append(notifications, notification)
		}
	}
	sortByCreatedAt(notifications, func(notification *Notification) int64 {
		return notification.CreatedAt.UnixNano()
	})
	return notifications, nil
}

func (self *MemoryStore) SocialPlatformsByUser(ctx context.Context, userId Id) ([]*SocialPlatform, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	platforms := []*SocialPlatform{}
	for _, platform := range self.socialPlatforms {
		if platform.UserId == userId {
			platforms = append(platforms, platform)
		}
	}
	return platforms, nil
}

func (self *MemoryStore) DeliverablesByClaim(ctx context.Context, claimId Id) ([]*Deliverable, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	deliverables := []*Deliverable{}
	for _, deliverable := range self.deliverables {
		if deliverable.ClaimId == claimId {
			deliverables = append(deliverables, deliverable)
		}
	}
	sortByCreatedAt(deliverables, func(deliverable *Deliverable) int64 {
		return deliverable.CreatedAt.UnixNano()
	})
	return deliverables, nil
}

// OwnerResolver

func (self *MemoryStore) OfferOwner(ctx context.Context, offerId Id) (Id, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	offer, ok := self.offers[offerId]
	if !ok {
		return Id{}, ErrNotFound
	}
	return offer.BusinessId, nil
}

func (self *MemoryStore) ClaimParties(ctx context.Context, claimId Id) (Id, Id, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	claim, ok := self.claims[claimId]
	if !ok {
		return Id{}, Id{}, ErrNotFound
	}
	return claim.BusinessId, claim.InfluencerId, nil
}

func (self *MemoryStore) MessageParties(ctx context.Context, messageId Id) (Id, Id, error) {
	self.mutex.Lock()
	message, ok := self.messages[messageId]
	self.mutex.Unlock()
	if !ok {
		return Id{}, Id{}, ErrNotFound
	}
	return self.ClaimParties(ctx, message.ClaimId)
}

func (self *MemoryStore) NotificationOwner(ctx context.Context, notificationId Id) (Id, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	notification, ok := self.notifications[notificationId]
	if !ok {
		return Id{}, ErrNotFound
	}
	return notification.UserId, nil
}

func (self *MemoryStore) DeliverableParties(ctx context.Context, deliverableId Id) (Id, Id, error) {
	self.mutex.Lock()
	deliverable, ok := self.deliverables[deliverableId]
	self.mutex.Unlock()
	if !ok {
		return Id{}, Id{}, ErrNotFound
	}
	return self.ClaimParties(ctx, deliverable.ClaimId)
}

// CredentialStore

func (self *MemoryStore) IdentityForSessionCookie(ctx context.Context, value string) (*Identity, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	identity, ok := self.cookieIdentities[value]
	if !ok {
		return nil, ErrNotFound
	}
	return identity, nil
}

func (self *MemoryStore) UserCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	userIds := map[Id]bool{}
	for _, userId := range maps.Keys(self.businessProfiles) {
		userIds[userId] = true
	}
	for _, userId := range maps.Keys(self.influencerProfiles) {
		userIds[userId] = true
	}
	return len(userIds)
}

// map iteration order is random. keep storage reads stable for snapshots.
func sortByCreatedAt[T any](items []T, at func(T) int64) {
	slices.SortFunc(items, func(a T, b T) int {
		if at(a) < at(b) {
			return -1
		} else if at(b) < at(a) {
			return 1
		} else {
			return 0
		}
	})
}
