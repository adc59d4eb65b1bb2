package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type ChangeRouterSettings struct {
	// bursts of mutations are drained on this interval so that a bulk
	// import does not generate one frame per mutation per client
	FlushInterval time.Duration
	LookupTimeout time.Duration
}

func DefaultChangeRouterSettings() *ChangeRouterSettings {
	return &ChangeRouterSettings{
		FlushInterval: 1 * time.Second,
		LookupTimeout: 5 * time.Second,
	}
}

// ChangeRouter decides who receives an entity change and delivers it
// exactly once per eligible session per change. Delivery order within a
// single target session is first-in-first-out relative to enqueue time.
type ChangeRouter struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry *ClientRegistry
	resolver OwnerResolver
	settings *ChangeRouterSettings

	mutex sync.Mutex
	queue []*queuedChange
}

type queuedChange struct {
	change *EntityChange
	// session id of the originating transport, empty for the http fallback
	originSessionId string
}

func NewChangeRouterWithDefaults(ctx context.Context, registry *ClientRegistry, resolver OwnerResolver) *ChangeRouter {
	return NewChangeRouter(ctx, registry, resolver, DefaultChangeRouterSettings())
}

func NewChangeRouter(ctx context.Context, registry *ClientRegistry, resolver OwnerResolver, settings *ChangeRouterSettings) *ChangeRouter {
	cancelCtx, cancel := context.WithCancel(ctx)
	router := &ChangeRouter{
		ctx:      cancelCtx,
		cancel:   cancel,
		registry: registry,
		resolver: resolver,
		settings: settings,
	}
	go router.run()
	return router
}

// Enqueue appends a change for the next flush.
func (self *ChangeRouter) Enqueue(change *EntityChange, originSessionId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.queue = append(self.queue, &queuedChange{
		change:          change,
		originSessionId: originSessionId,
	})
}

func (self *ChangeRouter) QueueSize() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.queue)
}

// the flush in progress completes before the next timer fires
func (self *ChangeRouter) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.FlushInterval):
			self.flush()
		}
	}
}

func (self *ChangeRouter) flush() {
	self.mutex.Lock()
	batch := self.queue
	self.queue = nil
	self.mutex.Unlock()

	if len(batch) == 0 {
		return
	}

	// ownership lookups for the batch run concurrently so one pending
	// lookup does not stall the rest. delivery is applied in enqueue
	// order afterward, preserving per-session fifo.
	targets := make([][]*Session, len(batch))

	var wg sync.WaitGroup
	for i, queued := range batch {
		wg.Add(1)
		go func(i int, queued *queuedChange) {
			defer wg.Done()
			lookupCtx, lookupCancel := context.WithTimeout(self.ctx, self.settings.LookupTimeout)
			defer lookupCancel()
			targets[i] = self.resolveTargets(lookupCtx, queued)
		}(i, queued)
	}
	wg.Wait()

	for i, queued := range batch {
		self.deliver(queued.change, targets[i])
	}
}

// resolveTargets evaluates the routing rule for the change's entity type.
// A failed ownership lookup drops only that routing branch; independent
// branches of the same change still deliver.
func (self *ChangeRouter) resolveTargets(ctx context.Context, queued *queuedChange) []*Session {
	change := queued.change

	targets := []*Session{}
	seenSessionIds := map[string]bool{}
	add := func(sessions []*Session, excludeOrigin bool) {
		for _, session := range sessions {
			if excludeOrigin && session.SessionId == queued.originSessionId {
				continue
			}
			if seenSessionIds[session.SessionId] {
				continue
			}
			seenSessionIds[session.SessionId] = true
			targets = append(targets, session)
		}
	}

	switch change.EntityType {
	case EntityTypeOffer:
		// offers are broadcast to every connected influencer, since any
		// influencer might be a match. the owner branch needs a lookup;
		// the broadcast branch does not depend on it.
		add(self.registry.SessionsForRole(RoleInfluencer), true)
		if businessId, err := self.resolver.OfferOwner(ctx, change.EntityId); err == nil {
			add(self.registry.SessionsForUser(businessId), true)
		} else {
			glog.Infof("[router]offer owner lookup failed %s = %s\n", change.EntityId, err)
		}
	case EntityTypeClaim:
		businessId, influencerId, err := self.resolver.ClaimParties(ctx, change.EntityId)
		if err != nil {
			glog.Infof("[router]claim parties lookup failed %s = %s\n", change.EntityId, err)
			return nil
		}
		add(self.registry.SessionsForUser(businessId), false)
		add(self.registry.SessionsForUser(influencerId), false)
	case EntityTypeMessage:
		businessId, influencerId, err := self.resolver.MessageParties(ctx, change.EntityId)
		if err != nil {
			glog.Infof("[router]message parties lookup failed %s = %s\n", change.EntityId, err)
			return nil
		}
		add(self.registry.SessionsForUser(businessId), true)
		add(self.registry.SessionsForUser(influencerId), true)
	case EntityTypeNotification:
		businessId, err := self.resolver.NotificationOwner(ctx, change.EntityId)
		if err != nil {
			glog.Infof("[router]notification owner lookup failed %s = %s\n", change.EntityId, err)
			return nil
		}
		add(self.registry.SessionsForUser(businessId), false)
	case EntityTypeDeliverable:
		_, influencerId, err := self.resolver.DeliverableParties(ctx, change.EntityId)
		if err != nil {
			glog.Infof("[router]deliverable parties lookup failed %s = %s\n", change.EntityId, err)
			return nil
		}
		add(self.registry.SessionsForUser(influencerId), false)
	default:
		glog.Infof("[router]unknown entity type %s\n", change.EntityType)
	}

	return targets
}

func (self *ChangeRouter) deliver(change *EntityChange, targets []*Session) {
	if len(targets) == 0 {
		return
	}

	frame, err := EncodeMessage(MessageTypeUpdate, change)
	if err != nil {
		glog.Infof("[router]encode error = %s\n", err)
		return
	}

	for _, session := range targets {
		// a closed or backed up session is a drop, not an error.
		// removal is the registry's responsibility.
		if session.Deliver(frame) {
			glog.V(2).Infof("[router]%s %s %s -> %s\n", change.EntityType, change.Action, change.EntityId, session.SessionId)
		} else {
			glog.V(2).Infof("[router]drop %s %s -> %s\n", change.EntityType, change.EntityId, session.SessionId)
		}
	}
}

func (self *ChangeRouter) Close() {
	self.cancel()
}
