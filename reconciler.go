package realtime

import (
	"encoding/json"
	"sync"

	"golang.org/x/exp/maps"
)

// ClientCache is the client-side reconciler: it merges snapshots and
// incremental changes into keyed per-entity-type collections.
//
// Invariant: after reconciliation each collection holds exactly the
// entities the server considers visible, with no duplicate ids and no
// entity whose last known action was delete. The same change may arrive
// twice (push channel racing the http fallback), so every apply is
// idempotent and deletes leave a tombstone that a stale replayed update
// cannot resurrect.
type ClientCache struct {
	mutex sync.Mutex

	collections map[EntityType]map[Id]json.RawMessage
	lastActions map[EntityType]map[Id]ChangeAction
}

func NewClientCache() *ClientCache {
	return &ClientCache{
		collections: map[EntityType]map[Id]json.RawMessage{},
		lastActions: map[EntityType]map[Id]ChangeAction{},
	}
}

// ApplySnapshot replaces each keyed collection wholesale.
// Tombstones reset with the collections: the snapshot is fresh server
// state and supersedes anything learned before it.
func (self *ClientCache) ApplySnapshot(snapshot *Snapshot) error {
	collections := map[EntityType]map[Id]json.RawMessage{}

	seed := func(entityType EntityType, entityId Id, entity any) error {
		entityBytes, err := json.Marshal(entity)
		if err != nil {
			return err
		}
		collection, ok := collections[entityType]
		if !ok {
			collection = map[Id]json.RawMessage{}
			collections[entityType] = collection
		}
		collection[entityId] = entityBytes
		return nil
	}

	for _, offer := range snapshot.Offers {
		if err := seed(EntityTypeOffer, offer.OfferId, offer); err != nil {
			return err
		}
	}
	for _, claim := range snapshot.Claims {
		if err := seed(EntityTypeClaim, claim.ClaimId, claim); err != nil {
			return err
		}
	}
	for _, notification := range snapshot.Notifications {
		if err := seed(EntityTypeNotification, notification.NotificationId, notification); err != nil {
			return err
		}
	}
	for _, deliverable := range snapshot.Deliverables {
		if err := seed(EntityTypeDeliverable, deliverable.DeliverableId, deliverable); err != nil {
			return err
		}
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.collections = collections
	self.lastActions = map[EntityType]map[Id]ChangeAction{}
	return nil
}

// ApplyChange merges one change. Reconciliation is atomic per change:
// the collection is never observable in a partial state.
func (self *ClientCache) ApplyChange(change *EntityChange) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	collection, ok := self.collections[change.EntityType]
	if !ok {
		collection = map[Id]json.RawMessage{}
		self.collections[change.EntityType] = collection
	}
	actions, ok := self.lastActions[change.EntityType]
	if !ok {
		actions = map[Id]ChangeAction{}
		self.lastActions[change.EntityType] = actions
	}

	switch change.Action {
	case ChangeActionCreate:
		if actions[change.EntityId] == ChangeActionDelete {
			// a stale create replayed after a delete
			return
		}
		if _, ok := collection[change.EntityId]; ok {
			// duplicate delivery
			return
		}
		collection[change.EntityId] = change.Payload
		actions[change.EntityId] = ChangeActionCreate
	case ChangeActionUpdate:
		if actions[change.EntityId] == ChangeActionDelete {
			// delete dominates; do not resurrect
			return
		}
		collection[change.EntityId] = change.Payload
		actions[change.EntityId] = ChangeActionUpdate
	case ChangeActionDelete:
		delete(collection, change.EntityId)
		actions[change.EntityId] = ChangeActionDelete
	}
}

func (self *ClientCache) Get(entityType EntityType, entityId Id) (json.RawMessage, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	collection, ok := self.collections[entityType]
	if !ok {
		return nil, false
	}
	entity, ok := collection[entityId]
	return entity, ok
}

func (self *ClientCache) Len(entityType EntityType) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.collections[entityType])
}

func (self *ClientCache) Ids(entityType EntityType) []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	collection, ok := self.collections[entityType]
	if !ok {
		return nil
	}
	return maps.Keys(collection)
}
