package state

import (
	"sort"

	"github.com/google/uuid"
)

type receipt struct {
	sender    uuid.UUID
	delivered map[uuid.UUID]struct{}
	read      map[uuid.UUID]struct{}
}

// DeliveryTracker records, per message, who had it delivered and who read it.
// The two sets are independent: a read does not imply a recorded delivery.
type DeliveryTracker struct {
	receipts map[int64]*receipt
}

func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{receipts: make(map[int64]*receipt)}
}

func (t *DeliveryTracker) entry(msgID int64) *receipt {
	r, ok := t.receipts[msgID]
	if !ok {
		r = &receipt{
			delivered: make(map[uuid.UUID]struct{}),
			read:      make(map[uuid.UUID]struct{}),
		}
		t.receipts[msgID] = r
	}
	return r
}

// Track remembers who sent msgID so reads by the sender can be recognized.
func (t *DeliveryTracker) Track(msgID int64, sender uuid.UUID) {
	t.entry(msgID).sender = sender
}

func (t *DeliveryTracker) MarkDelivered(msgID int64, id uuid.UUID) {
	t.entry(msgID).delivered[id] = struct{}{}
}

// MarkRead records a read. changed is false when id had already read msgID;
// alreadySelf is true when id sent the message itself.
func (t *DeliveryTracker) MarkRead(msgID int64, id uuid.UUID) (changed, alreadySelf bool) {
	r := t.entry(msgID)
	alreadySelf = r.sender == id
	if _, seen := r.read[id]; seen {
		return false, alreadySelf
	}
	r.read[id] = struct{}{}
	return true, alreadySelf
}

func (t *DeliveryTracker) DeliveredSet(msgID int64) []uuid.UUID {
	r, ok := t.receipts[msgID]
	if !ok {
		return nil
	}
	return sortedIDs(r.delivered)
}

func (t *DeliveryTracker) ReadSet(msgID int64) []uuid.UUID {
	r, ok := t.receipts[msgID]
	if !ok {
		return nil
	}
	return sortedIDs(r.read)
}

// Forget drops the receipts of messages that left the store.
func (t *DeliveryTracker) Forget(msgIDs ...int64) {
	for _, id := range msgIDs {
		delete(t.receipts, id)
	}
}

func (t *DeliveryTracker) Len() int {
	return len(t.receipts)
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
