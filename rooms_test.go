package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCodesAreUnique(t *testing.T) {
	rm := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, room := createRoomWithHost(t, rm)
		assert.Regexp(t, `^[A-Z0-9]{4}$`, room.code)
		assert.False(t, seen[room.code], "room code %s issued twice", room.code)
		seen[room.code] = true
	}

	assert.Equal(t, 50, rm.roomCount())
}

func TestDestroyRoomIsIdempotent(t *testing.T) {
	rm := newTestManager(t)
	_, room := createRoomWithHost(t, rm)

	rm.destroyRoom(room)
	rm.destroyRoom(room)

	assert.Nil(t, rm.lookup(room.code))
}

func TestReaperDestroysIdleRooms(t *testing.T) {
	cfg := testConfig()
	cfg.roomTimeout = 50 * time.Millisecond
	rm := newRoomManager(cfg, nil)

	host, room := createRoomWithHost(t, rm)

	require.Eventually(t, func() bool {
		return rm.lookup(room.code) == nil
	}, time.Second, 10*time.Millisecond, "idle room should be reaped")

	waitFor[hostLeftMessage](t, host)
}

func TestReaperSparesActiveRooms(t *testing.T) {
	cfg := testConfig()
	cfg.roomTimeout = 80 * time.Millisecond
	rm := newRoomManager(cfg, nil)

	_, room := createRoomWithHost(t, rm)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		room.mu.Lock()
		room.touchLocked()
		room.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}

	assert.NotNil(t, rm.lookup(room.code), "active room must not be reaped")
}

func TestTotalRoundsIsCappedByPromptPool(t *testing.T) {
	cfg := testConfig()

	cfg.maxRounds = 7
	assert.Equal(t, 7, totalRounds(cfg))

	cfg.maxRounds = 999
	assert.Equal(t, len(prompts), totalRounds(cfg))

	cfg.maxRounds = 1
	assert.Equal(t, 1, totalRounds(cfg))
}
