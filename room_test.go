package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		bind:        "127.0.0.1",
		port:        8080,
		minPlayers:  2,
		maxRounds:   7,
		revealDelay: 10 * time.Millisecond,
		roomTimeout: 0, // no reaper in tests
	}
}

func newTestManager(t *testing.T) *RoomManager {
	t.Helper()
	return newRoomManager(testConfig(), nil)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return &Client{
		id:   PlayerID(uuid.NewString()),
		send: make(chan any, 64),
	}
}

// waitFor drains c's outbound queue until a message of type T arrives.
func waitFor[T any](t *testing.T, c *Client) T {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-c.send:
			if m, ok := msg.(T); ok {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func phaseOf(r *Room) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func createRoomWithHost(t *testing.T, rm *RoomManager) (*Client, *Room) {
	t.Helper()

	host := newTestClient(t)
	rm.createRoom(host)

	created := waitFor[gameCreatedMessage](t, host)
	room := rm.lookup(created.RoomCode)
	require.NotNil(t, room, "created room should be in the table")

	return host, room
}

func joinPlayer(t *testing.T, rm *RoomManager, room *Room, name string) *Client {
	t.Helper()

	c := newTestClient(t)
	rm.joinRoom(c, room.code, name, "🐸")
	waitFor[joinSuccessMessage](t, c)

	return c
}

func startTwoPlayerGame(t *testing.T, rm *RoomManager) (host, alice, bob *Client, room *Room) {
	t.Helper()

	host, room = createRoomWithHost(t, rm)
	alice = joinPlayer(t, rm, room, "Alice")
	bob = joinPlayer(t, rm, room, "Bob")
	rm.startGame(host)
	waitFor[roundMessage](t, host)

	drain(host)
	drain(alice)
	drain(bob)

	return host, alice, bob, room
}

func TestCreateRoomAssignsCodeAndHost(t *testing.T) {
	rm := newTestManager(t)

	host, room := createRoomWithHost(t, rm)

	assert.Len(t, room.code, roomCodeLength)
	assert.Regexp(t, `^[A-Z0-9]{4}$`, room.code)
	assert.Equal(t, host.id, room.host)
	assert.Equal(t, PhaseLobby, phaseOf(room))
	assert.Empty(t, room.players)
}

func TestJoinUnknownRoom(t *testing.T) {
	rm := newTestManager(t)

	c := newTestClient(t)
	rm.joinRoom(c, "ZZZZ", "Alice", "😀")

	errMsg := waitFor[errorMessage](t, c)
	assert.Equal(t, errRoomNotFound, errMsg.Message)
}

func TestJoinAfterStartRejected(t *testing.T) {
	rm := newTestManager(t)
	_, _, _, room := startTwoPlayerGame(t, rm)

	late := newTestClient(t)
	rm.joinRoom(late, room.code, "Carol", "👻")

	errMsg := waitFor[errorMessage](t, late)
	assert.Equal(t, errGameAlreadyStarted, errMsg.Message)
}

func TestJoinInitializesScoreAndRoster(t *testing.T) {
	rm := newTestManager(t)
	host, room := createRoomWithHost(t, rm)

	alice := newTestClient(t)
	rm.joinRoom(alice, room.code, "Alice", "😀")

	joined := waitFor[playerJoinedMessage](t, host)
	assert.Equal(t, "Alice", joined.Player.Name)

	appearances := 0
	for _, p := range joined.Players {
		if p.ID == alice.id {
			appearances++
		}
	}
	assert.Equal(t, 1, appearances, "joined player should appear exactly once in the roster")

	room.mu.Lock()
	score, ok := room.scores[alice.id]
	room.mu.Unlock()
	require.True(t, ok)
	assert.Zero(t, score)

	success := waitFor[joinSuccessMessage](t, alice)
	assert.Equal(t, alice.id, success.Player.ID)
}

func TestRejoinIsIdempotent(t *testing.T) {
	rm := newTestManager(t)
	_, room := createRoomWithHost(t, rm)

	alice := joinPlayer(t, rm, room, "Alice")
	rm.joinRoom(alice, room.code, "Alice", "😀")
	waitFor[joinSuccessMessage](t, alice)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Len(t, room.players, 1, "roster must never hold the same session twice")
}

func TestStartGameRequiresHost(t *testing.T) {
	rm := newTestManager(t)
	_, room := createRoomWithHost(t, rm)
	alice := joinPlayer(t, rm, room, "Alice")
	joinPlayer(t, rm, room, "Bob")

	rm.startGame(alice)

	assert.Equal(t, PhaseLobby, phaseOf(room))
}

func TestStartGameNotEnoughPlayers(t *testing.T) {
	rm := newTestManager(t)
	host, room := createRoomWithHost(t, rm)
	joinPlayer(t, rm, room, "Alice")

	rm.startGame(host)

	errMsg := waitFor[errorMessage](t, host)
	assert.Equal(t, errNotEnoughPlayers, errMsg.Message)
	assert.Equal(t, PhaseLobby, phaseOf(room))
}

func TestStartGameBroadcastsFirstPrompt(t *testing.T) {
	rm := newTestManager(t)
	host, room := createRoomWithHost(t, rm)
	alice := joinPlayer(t, rm, room, "Alice")
	joinPlayer(t, rm, room, "Bob")
	drain(alice)

	rm.startGame(host)

	started := waitFor[roundMessage](t, alice)
	assert.Equal(t, "gameStarted", started.Type)
	assert.Equal(t, prompts[0], started.Question)
	assert.Equal(t, 1, started.Round)
	assert.Equal(t, 7, started.Total)
	assert.Equal(t, PhaseAnswering, phaseOf(room))
}

func TestSubmitAnswerProgressAndVotingTransition(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)

	rm.submitAnswer(alice, "первый ответ")
	progress := waitFor[progressMessage](t, host)
	assert.Equal(t, "answerProgress", progress.Type)
	assert.Equal(t, 1, progress.Current)
	assert.Equal(t, 2, progress.Total)

	rm.submitAnswer(bob, "второй ответ")

	voting := waitFor[votingStartedMessage](t, host)
	assert.Equal(t, prompts[0], voting.Question)
	require.Len(t, voting.Answers, 2)

	texts := map[string]bool{}
	for _, a := range voting.Answers {
		texts[a.Text] = true
	}
	assert.True(t, texts["первый ответ"])
	assert.True(t, texts["второй ответ"])

	assert.Equal(t, PhaseVoting, phaseOf(room))
}

func TestResubmittedAnswerOverwrites(t *testing.T) {
	rm := newTestManager(t)
	_, alice, _, room := startTwoPlayerGame(t, rm)

	rm.submitAnswer(alice, "черновик")
	rm.submitAnswer(alice, "чистовик")

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, "чистовик", room.answers[alice.id])
	assert.Len(t, room.answers, 1)
}

func TestHostCannotSubmitAnswer(t *testing.T) {
	rm := newTestManager(t)
	host, _, _, room := startTwoPlayerGame(t, rm)

	rm.submitAnswer(host, "я просто экран")

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Empty(t, room.answers)
}

func toVoting(t *testing.T, rm *RoomManager, host, alice, bob *Client, room *Room) {
	t.Helper()

	rm.submitAnswer(alice, "ответ Алисы")
	rm.submitAnswer(bob, "ответ Боба")
	waitFor[votingStartedMessage](t, host)

	drain(host)
	drain(alice)
	drain(bob)
}

func TestVoteSelfRejected(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)
	toVoting(t, rm, host, alice, bob, room)

	rm.vote(alice, alice.id)

	errMsg := waitFor[errorMessage](t, alice)
	assert.Equal(t, errCannotVoteSelf, errMsg.Message)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Empty(t, room.votes)
	assert.Zero(t, room.scores[alice.id])
}

func TestDuplicateVoteRejected(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)
	toVoting(t, rm, host, alice, bob, room)

	rm.vote(alice, bob.id)
	rm.vote(alice, bob.id)

	errMsg := waitFor[errorMessage](t, alice)
	assert.Equal(t, errDuplicateVote, errMsg.Message)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, voteAward, room.scores[bob.id], "second vote must not award points")
}

func TestVotingAwardsAndResults(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)
	toVoting(t, rm, host, alice, bob, room)

	rm.vote(alice, bob.id)
	rm.vote(bob, alice.id)

	results := waitFor[roundResultsMessage](t, host)
	require.Len(t, results.Results, 2)

	distributed := 0
	room.mu.Lock()
	for _, score := range room.scores {
		distributed += score
	}
	playerCount := len(room.players)
	room.mu.Unlock()

	assert.Equal(t, playerCount*voteAward, distributed,
		"each vote awards exactly %d points to its target", voteAward)
	assert.Equal(t, PhaseResults, phaseOf(room))

	// The delayed transition fires exactly once per threshold crossing.
	time.Sleep(5 * rm.cfg.revealDelay)
	for {
		select {
		case msg := <-host.send:
			_, isResults := msg.(roundResultsMessage)
			assert.False(t, isResults, "results must only be revealed once")
			continue
		default:
		}
		break
	}
}

func TestRoundResultsSortedByVotes(t *testing.T) {
	rm := newTestManager(t)
	host, room := createRoomWithHost(t, rm)
	alice := joinPlayer(t, rm, room, "Alice")
	bob := joinPlayer(t, rm, room, "Bob")
	carol := joinPlayer(t, rm, room, "Carol")
	rm.startGame(host)

	rm.submitAnswer(alice, "a")
	rm.submitAnswer(bob, "b")
	rm.submitAnswer(carol, "c")
	waitFor[votingStartedMessage](t, host)
	drain(host)

	// Two votes for Bob, one for Alice.
	rm.vote(alice, bob.id)
	rm.vote(carol, bob.id)
	rm.vote(bob, alice.id)

	results := waitFor[roundResultsMessage](t, host)
	require.Len(t, results.Results, 3)

	assert.Equal(t, bob.id, results.Results[0].ID)
	assert.Equal(t, 2, results.Results[0].Votes)
	assert.Equal(t, 2*voteAward, results.Results[0].Score)
	for i := 1; i < len(results.Results); i++ {
		assert.GreaterOrEqual(t, results.Results[i-1].Votes, results.Results[i].Votes)
	}
}

func playRound(t *testing.T, rm *RoomManager, host, alice, bob *Client, room *Room) {
	t.Helper()

	rm.submitAnswer(alice, "ответ Алисы")
	rm.submitAnswer(bob, "ответ Боба")
	waitFor[votingStartedMessage](t, host)
	rm.vote(alice, bob.id)
	rm.vote(bob, alice.id)
	waitFor[roundResultsMessage](t, host)

	drain(host)
	drain(alice)
	drain(bob)
}

func TestNextRoundAdvancesAndClears(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)
	playRound(t, rm, host, alice, bob, room)

	rm.nextRound(host)

	next := waitFor[roundMessage](t, alice)
	assert.Equal(t, "newRound", next.Type)
	assert.Equal(t, prompts[1], next.Question)
	assert.Equal(t, 2, next.Round)
	assert.Equal(t, 7, next.Total)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, PhaseAnswering, room.phase)
	assert.Empty(t, room.answers)
	assert.Empty(t, room.votes)
	assert.Equal(t, voteAward, room.scores[alice.id], "scores persist across rounds")
}

func TestNextRoundRequiresHost(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)
	playRound(t, rm, host, alice, bob, room)

	rm.nextRound(alice)

	assert.Equal(t, PhaseResults, phaseOf(room))
}

func TestGameFinishesAfterFinalRound(t *testing.T) {
	rm := newTestManager(t)
	rm.cfg.maxRounds = 1

	host, alice, bob, room := startTwoPlayerGame(t, rm)

	rm.submitAnswer(alice, "a")
	rm.submitAnswer(bob, "b")
	waitFor[votingStartedMessage](t, host)

	// Only Alice scores, so the standings have a clear order.
	rm.vote(bob, alice.id)
	rm.vote(alice, bob.id)
	waitFor[roundResultsMessage](t, host)
	room.mu.Lock()
	room.scores[alice.id] += voteAward
	room.mu.Unlock()

	rm.nextRound(host)

	finished := waitFor[gameFinishedMessage](t, host)
	require.Len(t, finished.Standings, 2)
	assert.Equal(t, "Alice", finished.Standings[0].Name)
	for i := 1; i < len(finished.Standings); i++ {
		assert.GreaterOrEqual(t, finished.Standings[i-1].Score, finished.Standings[i].Score)
	}
	assert.Equal(t, PhaseFinished, phaseOf(room))
}

func TestHostDisconnectDestroysRoom(t *testing.T) {
	rm := newTestManager(t)
	host, room := createRoomWithHost(t, rm)
	alice := joinPlayer(t, rm, room, "Alice")
	drain(alice)

	rm.disconnect(host)

	waitFor[hostLeftMessage](t, alice)
	assert.Nil(t, rm.lookup(room.code))

	late := newTestClient(t)
	rm.joinRoom(late, room.code, "Carol", "👻")
	errMsg := waitFor[errorMessage](t, late)
	assert.Equal(t, errRoomNotFound, errMsg.Message)
}

func TestPlayerDisconnectRemovesState(t *testing.T) {
	rm := newTestManager(t)
	host, alice, bob, room := startTwoPlayerGame(t, rm)

	rm.submitAnswer(alice, "уходящий ответ")
	rm.disconnect(alice)

	left := waitFor[playerLeftMessage](t, host)
	assert.Equal(t, alice.id, left.PlayerID)
	assert.Len(t, left.Players, 1)

	room.mu.Lock()
	defer room.mu.Unlock()
	_, hasScore := room.scores[alice.id]
	_, hasAnswer := room.answers[alice.id]
	assert.False(t, hasScore)
	assert.False(t, hasAnswer)
	assert.NotNil(t, rm.lookup(room.code), "room survives a non-host departure")

	_ = bob
}

func TestPendingTransitionCancelledOnDestroy(t *testing.T) {
	rm := newTestManager(t)
	rm.cfg.revealDelay = 50 * time.Millisecond

	host, alice, bob, room := startTwoPlayerGame(t, rm)

	rm.submitAnswer(alice, "a")
	rm.submitAnswer(bob, "b")
	rm.disconnect(host)

	assert.Nil(t, rm.lookup(room.code))

	waitFor[hostLeftMessage](t, alice)
	time.Sleep(3 * rm.cfg.revealDelay)

	select {
	case msg := <-alice.send:
		_, isVoting := msg.(votingStartedMessage)
		assert.False(t, isVoting, "no voting may start in a destroyed room")
	default:
	}
}

func TestFullGameScenario(t *testing.T) {
	rm := newTestManager(t)

	host, room := createRoomWithHost(t, rm)
	alice := joinPlayer(t, rm, room, "Alice")
	bob := joinPlayer(t, rm, room, "Bob")

	room.mu.Lock()
	require.Len(t, room.players, 2)
	room.mu.Unlock()

	rm.startGame(host)
	started := waitFor[roundMessage](t, host)
	require.Equal(t, 1, started.Round)
	require.Equal(t, 7, started.Total)

	rm.submitAnswer(alice, "смешно")
	rm.submitAnswer(bob, "ещё смешнее")
	voting := waitFor[votingStartedMessage](t, host)
	require.Len(t, voting.Answers, 2)

	rm.vote(alice, bob.id)
	rm.vote(bob, alice.id)
	waitFor[roundResultsMessage](t, host)

	room.mu.Lock()
	require.Equal(t, voteAward, room.scores[alice.id])
	require.Equal(t, voteAward, room.scores[bob.id])
	room.mu.Unlock()

	rm.nextRound(host)
	next := waitFor[roundMessage](t, host)
	require.Equal(t, 2, next.Round)

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Empty(t, room.answers)
	require.Empty(t, room.votes)
}
