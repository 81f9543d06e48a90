package room

import (
	"crypto/sha256"
	"math/big"
	"sync"
)

// shardFor deterministically picks a shard for a room id by hashing it.
func shardFor(roomID string, shards int) int {
	if shards <= 1 {
		return 0
	}
	hash := sha256.Sum256([]byte(roomID))
	hashInt := new(big.Int).SetBytes(hash[:])
	mod := new(big.Int).Mod(hashInt, big.NewInt(int64(shards)))
	return int(mod.Int64())
}

// registry maps room ids to their running actors.
type registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRegistry() *registry {
	return &registry{rooms: make(map[string]*Room)}
}

func (r *registry) register(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.id] = room
}

// deregister removes the room only if it is still the registered actor for
// its id.
func (r *registry) deregister(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room.id] == room {
		delete(r.rooms, room.id)
	}
}

func (r *registry) get(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *registry) all() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}
