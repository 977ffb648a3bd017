package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// RoomManager owns the table of active rooms. All access to the table goes
// through it; rooms themselves are independent and carry their own lock.
type RoomManager struct {
	cfg         *Config
	leaderboard *Leaderboard // nil when no redis is configured

	mu    sync.Mutex
	rooms map[string]*Room
}

func newRoomManager(cfg *Config, leaderboard *Leaderboard) *RoomManager {
	rm := &RoomManager{
		cfg:         cfg,
		leaderboard: leaderboard,
		rooms:       make(map[string]*Room),
	}
	if cfg.roomTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

// roomCodeLength is the length of the join code shown on the host screen.
// Four base-36 characters keep codes short enough to type on a phone.
const roomCodeLength = 4

const roomCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newRoom creates a room with a fresh code and the caller as host. Code
// generation and table insertion happen under one lock so two concurrent
// creators can never claim the same code.
func (rm *RoomManager) newRoom(host *Client) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var code string
	for {
		buf := make([]byte, roomCodeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, roomCodeLength)
		for i := range out {
			out[i] = roomCodeLetters[int(buf[i])%len(roomCodeLetters)]
		}
		code = string(out)

		if _, exists := rm.rooms[code]; !exists {
			break
		}
	}

	room := &Room{
		code:       code,
		clients:    map[*Client]bool{host: true},
		host:       host.id,
		phase:      PhaseLobby,
		answers:    make(map[PlayerID]string),
		votes:      make(map[PlayerID]PlayerID),
		scores:     make(map[PlayerID]int),
		lastActive: time.Now(),
	}

	rm.rooms[code] = room

	return room
}

func (rm *RoomManager) lookup(code string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rooms[code]
}

func (rm *RoomManager) roomCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.rooms)
}

// destroyRoom removes the room from the table, cancels any pending delayed
// transition, and tells remaining clients the session is over. Any delayed
// callback that already fired will see destroyed and no-op.
func (rm *RoomManager) destroyRoom(room *Room) {
	rm.mu.Lock()
	delete(rm.rooms, room.code)
	rm.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed {
		return
	}
	room.destroyed = true

	room.cancelPendingLocked()

	room.broadcastLocked(hostLeftMessage{Type: "hostLeft"})

	clear(room.clients)
}

// reaperLoop periodically removes rooms that have been idle longer than the
// configured room timeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.cfg.roomTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.cfg.roomTimeout)

		var stale []*Room

		rm.mu.Lock()
		for _, room := range rm.rooms {
			room.mu.Lock()
			last := room.lastActive
			room.mu.Unlock()

			if last.Before(cutoff) {
				stale = append(stale, room)
			}
		}
		rm.mu.Unlock()

		for _, room := range stale {
			rm.destroyRoom(room)
			logf("GAMES: Reaped idle room %s", room.code)
		}
	}
}
