package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestClientCacheApplyChangeIdempotent(t *testing.T) {
	cache := NewClientCache()

	offerId := NewId()
	create := &EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionCreate,
		EntityId:   offerId,
		Payload:    json.RawMessage(`{"title":"spring launch"}`),
	}

	cache.ApplyChange(create)
	assert.Equal(t, 1, cache.Len(EntityTypeOffer))

	// duplicate delivery, e.g. push channel racing the http fallback
	cache.ApplyChange(create)
	assert.Equal(t, 1, cache.Len(EntityTypeOffer))

	entity, ok := cache.Get(EntityTypeOffer, offerId)
	assert.Equal(t, true, ok)
	assert.Equal(t, json.RawMessage(`{"title":"spring launch"}`), entity)
}

func TestClientCacheUpdateTreatedAsCreate(t *testing.T) {
	cache := NewClientCache()

	claimId := NewId()
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeClaim,
		Action:     ChangeActionUpdate,
		EntityId:   claimId,
		Payload:    json.RawMessage(`{"status":"pending"}`),
	})
	assert.Equal(t, 1, cache.Len(EntityTypeClaim))

	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeClaim,
		Action:     ChangeActionUpdate,
		EntityId:   claimId,
		Payload:    json.RawMessage(`{"status":"accepted"}`),
	})
	assert.Equal(t, 1, cache.Len(EntityTypeClaim))

	entity, _ := cache.Get(EntityTypeClaim, claimId)
	assert.Equal(t, json.RawMessage(`{"status":"accepted"}`), entity)
}

func TestClientCacheDeleteDominance(t *testing.T) {
	cache := NewClientCache()

	offerId := NewId()
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionCreate,
		EntityId:   offerId,
		Payload:    json.RawMessage(`{"title":"a"}`),
	})
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionDelete,
		EntityId:   offerId,
	})
	assert.Equal(t, 0, cache.Len(EntityTypeOffer))

	// a stale update replayed after the delete must not resurrect
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionUpdate,
		EntityId:   offerId,
		Payload:    json.RawMessage(`{"title":"stale"}`),
	})
	assert.Equal(t, 0, cache.Len(EntityTypeOffer))

	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionCreate,
		EntityId:   offerId,
		Payload:    json.RawMessage(`{"title":"stale"}`),
	})
	assert.Equal(t, 0, cache.Len(EntityTypeOffer))

	// delete again is a no-op
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionDelete,
		EntityId:   offerId,
	})
	assert.Equal(t, 0, cache.Len(EntityTypeOffer))
}

func TestClientCacheUnseenEntityType(t *testing.T) {
	cache := NewClientCache()

	// a change for a type with no local collection yet initializes it
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeDeliverable,
		Action:     ChangeActionCreate,
		EntityId:   NewId(),
		Payload:    json.RawMessage(`{}`),
	})
	assert.Equal(t, 1, cache.Len(EntityTypeDeliverable))

	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeNotification,
		Action:     ChangeActionDelete,
		EntityId:   NewId(),
	})
	assert.Equal(t, 0, cache.Len(EntityTypeNotification))
}

func TestClientCacheApplySnapshot(t *testing.T) {
	cache := NewClientCache()

	staleOfferId := NewId()
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionCreate,
		EntityId:   staleOfferId,
		Payload:    json.RawMessage(`{"title":"stale"}`),
	})

	deletedOfferId := NewId()
	cache.ApplyChange(&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionDelete,
		EntityId:   deletedOfferId,
	})

	businessId := NewId()
	offerA := &Offer{
		OfferId:    NewId(),
		BusinessId: businessId,
		Title:      "a",
		Status:     OfferStatusActive,
		CreatedAt:  time.Now(),
	}
	offerB := &Offer{
		OfferId:    deletedOfferId,
		BusinessId: businessId,
		Title:      "b",
		Status:     OfferStatusActive,
		CreatedAt:  time.Now(),
	}
	claim := &Claim{
		ClaimId:      NewId(),
		OfferId:      offerA.OfferId,
		BusinessId:   businessId,
		InfluencerId: NewId(),
		Status:       ClaimStatusPending,
		CreatedAt:    time.Now(),
	}

	err := cache.ApplySnapshot(&Snapshot{
		Offers:          []*Offer{offerA, offerB},
		Claims:          []*Claim{claim},
		Notifications:   []*Notification{},
		SocialPlatforms: []*SocialPlatform{},
		Deliverables:    []*Deliverable{},
		GeneratedAt:     time.Now(),
	})
	assert.Equal(t, nil, err)

	// the snapshot replaced the collection wholesale: the stale entry
	// is gone and the tombstone no longer suppresses the fresh entry
	assert.Equal(t, 2, cache.Len(EntityTypeOffer))
	assert.Equal(t, 1, cache.Len(EntityTypeClaim))
	_, ok := cache.Get(EntityTypeOffer, staleOfferId)
	assert.Equal(t, false, ok)
	_, ok = cache.Get(EntityTypeOffer, deletedOfferId)
	assert.Equal(t, true, ok)
}
