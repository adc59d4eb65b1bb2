package realtime

import (
	"context"
	"time"
)

// SnapshotService computes the full, freshly read view of a user's
// domain collections. Always recomputed, never cached: this path runs
// rarely (connect, fallback, explicit refresh) and favors consistency
// over latency.
type SnapshotService struct {
	store Store
}

func NewSnapshotService(store Store) *SnapshotService {
	return &SnapshotService{
		store: store,
	}
}

// ComputeSnapshot succeeds even when the user has no profile yet,
// returning an otherwise-empty snapshot. "No data" is not an error.
func (self *SnapshotService) ComputeSnapshot(ctx context.Context, userId Id, role Role) (*Snapshot, error) {
	snapshot := &Snapshot{
		Offers:          []*Offer{},
		Claims:          []*Claim{},
		Notifications:   []*Notification{},
		SocialPlatforms: []*SocialPlatform{},
		Deliverables:    []*Deliverable{},
		GeneratedAt:     time.Now().UTC(),
	}

	switch role {
	case RoleBusiness:
		profile, err := self.store.BusinessProfile(ctx, userId)
		if err != nil {
			return nil, err
		}
		snapshot.BusinessProfile = profile

		offers, err := self.store.OffersByBusiness(ctx, userId)
		if err != nil {
			return nil, err
		}
		snapshot.Offers = offers

		claims, err := self.store.ClaimsByBusiness(ctx, userId)
		if err != nil {
			return nil, err
		}
		snapshot.Claims = claims
	case RoleInfluencer:
		profile, err := self.store.InfluencerProfile(ctx, userId)
		if err != nil {
			return nil, err
		}
		snapshot.InfluencerProfile = profile

		// any active offer might be a match for the influencer
		offers, err := self.store.ActiveOffers(ctx)
		if err != nil {
			return nil, err
		}
		snapshot.Offers = offers

		claims, err := self.store.ClaimsByInfluencer(ctx, userId)
		if err != nil {
			return nil, err
		}
		snapshot.Claims = claims
	}

	notifications, err := self.store.NotificationsByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	snapshot.Notifications = notifications

	platforms, err := self.store.SocialPlatformsByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	snapshot.SocialPlatforms = platforms

	for _, claim := range snapshot.Claims {
		deliverables, err := self.store.DeliverablesByClaim(ctx, claim.ClaimId)
		if err != nil {
			return nil, err
		}
		snapshot.Deliverables = append(snapshot.Deliverables, deliverables...)
	}

	return snapshot, nil
}
