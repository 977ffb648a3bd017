package main

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// PlayerID identifies a player for the lifetime of their connection. It is
// minted per websocket session and doubles as the answer id and vote target id,
// since each player submits exactly one answer per round.
type PlayerID string

// Phase is the current stage of a room's lifecycle.
type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseAnswering Phase = "answering"
	PhaseVoting    Phase = "voting"
	PhaseResults   Phase = "results"
	PhaseFinished  Phase = "finished"
)

// voteAward is the number of points a player's answer earns per vote received.
const voteAward = 1000

// Client-facing error strings, sent only to the offending connection.
const (
	errRoomNotFound       = "Game not found!"
	errGameAlreadyStarted = "The game has already started!"
	errNotEnoughPlayers   = "At least 2 players are needed to start!"
	errCannotVoteSelf     = "You cannot vote for your own answer!"
	errDuplicateVote      = "You have already voted this round!"
)

// Player holds the data we store server-side for one joined player.
type Player struct {
	ID     PlayerID `json:"id"`
	Name   string   `json:"name"`
	Avatar string   `json:"avatar"`
}

// Room is an isolated game session. All mutation happens under mu, one event
// at a time, so each handler observes and leaves consistent state.
type Room struct {
	code string

	mu      sync.Mutex
	clients map[*Client]bool

	host    PlayerID
	players []Player // join order
	phase   Phase
	answers map[PlayerID]string   // cleared every round
	votes   map[PlayerID]PlayerID // voter -> answer owner, cleared every round
	scores  map[PlayerID]int      // cumulative, kept for the room lifetime
	round   int                   // zero-based index into the prompt pool

	lastActive time.Time
	pending    *time.Timer // pending delayed phase transition, if any
	destroyed  bool
}

func (r *Room) touchLocked() {
	r.lastActive = time.Now()
}

// broadcastLocked sends msg to every connection in the room. Clients whose
// send buffer is full are dropped from the broadcast set; delivery is
// best-effort by design.
func (r *Room) broadcastLocked(msg any) {
	for client := range r.clients {
		select {
		case client.send <- msg:
		default:
			delete(r.clients, client)
		}
	}
}

// scheduleLocked arms the room's single delayed-transition timer, replacing
// any previous one. The callback must re-check phase and liveness itself,
// since the room can change or disappear before the timer fires.
func (r *Room) scheduleLocked(d time.Duration, fn func()) {
	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(d, fn)
}

func (r *Room) cancelPendingLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

func (r *Room) rosterLocked() []Player {
	roster := make([]Player, len(r.players))
	copy(roster, r.players)
	return roster
}

func (r *Room) promptLocked() string {
	return prompts[r.round]
}

// createRoom allocates a fresh room with the caller as host and replies with
// the room code. Only the host learns the code; everyone else gets it out of
// band (or scans the QR).
func (rm *RoomManager) createRoom(c *Client) {
	room := rm.newRoom(c)
	c.room = room

	c.trySend(gameCreatedMessage{
		Type:     "gameCreated",
		RoomCode: room.code,
	})

	logf("GAMES: Created room %s", room.code)
}

// joinRoom adds the caller to the room's roster during the lobby phase.
func (rm *RoomManager) joinRoom(c *Client, code, name, avatar string) {
	room := rm.lookup(code)
	if room == nil {
		c.sendError(errRoomNotFound)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed {
		c.sendError(errRoomNotFound)
		return
	}

	if room.phase != PhaseLobby {
		c.sendError(errGameAlreadyStarted)
		return
	}

	room.touchLocked()

	// Re-joining with the same session is idempotent; the roster never
	// holds the same session twice.
	for _, p := range room.players {
		if p.ID == c.id {
			c.trySend(joinSuccessMessage{Type: "joinSuccess", Player: p})
			return
		}
	}

	player := Player{
		ID:     c.id,
		Name:   name,
		Avatar: avatar,
	}

	room.players = append(room.players, player)
	room.scores[c.id] = 0
	room.clients[c] = true
	c.room = room

	room.broadcastLocked(playerJoinedMessage{
		Type:    "playerJoined",
		Player:  player,
		Players: room.rosterLocked(),
	})
	c.trySend(joinSuccessMessage{Type: "joinSuccess", Player: player})

	logf("GAMES: Player %q joined %s", name, room.code)
}

// startGame transitions the room from lobby to the first answering phase.
// Host-only; silently ignored otherwise.
func (rm *RoomManager) startGame(c *Client) {
	room := c.room
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed || room.host != c.id || room.phase != PhaseLobby {
		return
	}

	if len(room.players) < rm.cfg.minPlayers {
		c.sendError(errNotEnoughPlayers)
		return
	}

	room.touchLocked()

	room.phase = PhaseAnswering
	room.round = 0
	room.answers = make(map[PlayerID]string)

	room.broadcastLocked(roundMessage{
		Type:     "gameStarted",
		Question: room.promptLocked(),
		Round:    1,
		Total:    totalRounds(rm.cfg),
	})

	logf("GAMES: Room %s started with %d players", room.code, len(room.players))
}

// submitAnswer records the caller's answer for the current round. Resubmitting
// overwrites the previous answer. Once every player has answered, the room
// moves to voting after a short pause so clients can render the full count.
func (rm *RoomManager) submitAnswer(c *Client, text string) {
	room := c.room
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed || room.phase != PhaseAnswering {
		return
	}

	if _, joined := room.scores[c.id]; !joined {
		return
	}

	room.touchLocked()

	room.answers[c.id] = text

	room.broadcastLocked(progressMessage{
		Type:    "answerProgress",
		Current: len(room.answers),
		Total:   len(room.players),
	})

	if len(room.answers) == len(room.players) {
		room.scheduleLocked(rm.cfg.revealDelay, func() {
			rm.startVoting(room)
		})
	}
}

// startVoting fires after the pacing delay once all answers are in. The player
// count is deliberately not re-validated here: if someone left in the
// meantime, the round proceeds with the answers collected at trigger time.
func (rm *RoomManager) startVoting(room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed || room.phase != PhaseAnswering {
		return
	}

	room.touchLocked()

	room.phase = PhaseVoting
	room.votes = make(map[PlayerID]PlayerID)

	answers := make([]votingAnswer, 0, len(room.answers))
	for _, p := range room.players {
		text, ok := room.answers[p.ID]
		if !ok {
			continue
		}
		answers = append(answers, votingAnswer{
			ID:     p.ID,
			Text:   text,
			Player: p,
		})
	}

	// Uniform shuffle so a ballot's position reveals nothing about who
	// submitted first.
	rand.Shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
	})

	room.broadcastLocked(votingStartedMessage{
		Type:     "votingStarted",
		Question: room.promptLocked(),
		Answers:  answers,
	})
}

// vote records the caller's vote for another player's answer and awards the
// target a fixed number of points. One vote per player per round.
func (rm *RoomManager) vote(c *Client, target PlayerID) {
	room := c.room
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed || room.phase != PhaseVoting {
		return
	}

	if _, joined := room.scores[c.id]; !joined {
		return
	}

	if _, voted := room.votes[c.id]; voted {
		c.sendError(errDuplicateVote)
		return
	}

	if target == c.id {
		c.sendError(errCannotVoteSelf)
		return
	}

	room.touchLocked()

	room.votes[c.id] = target
	room.scores[target] += voteAward

	room.broadcastLocked(progressMessage{
		Type:    "voteProgress",
		Current: len(room.votes),
		Total:   len(room.players),
	})

	if len(room.votes) == len(room.players) {
		room.scheduleLocked(rm.cfg.revealDelay, func() {
			rm.showResults(room)
		})
	}
}

// showResults fires after the pacing delay once all votes are in, revealing
// who wrote what and how each answer scored this round.
func (rm *RoomManager) showResults(room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed || room.phase != PhaseVoting {
		return
	}

	room.touchLocked()

	room.phase = PhaseResults

	tally := make(map[PlayerID]int, len(room.votes))
	for _, target := range room.votes {
		tally[target]++
	}

	results := make([]roundResult, 0, len(room.answers))
	for _, p := range room.players {
		text, ok := room.answers[p.ID]
		if !ok {
			continue
		}
		results = append(results, roundResult{
			ID:     p.ID,
			Name:   p.Name,
			Avatar: p.Avatar,
			Answer: text,
			Votes:  tally[p.ID],
			Score:  room.scores[p.ID],
		})
	}

	// Stable, so equal vote counts keep join order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Votes > results[j].Votes
	})

	room.broadcastLocked(roundResultsMessage{
		Type:    "roundResults",
		Results: results,
	})
}

// nextRound advances the room to the next answering phase, or finishes the
// game once the final round has been played. Host-only; silently ignored otherwise.
func (rm *RoomManager) nextRound(c *Client) {
	room := c.room
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed || room.host != c.id || room.phase != PhaseResults {
		return
	}

	room.touchLocked()

	room.round++

	if room.round >= totalRounds(rm.cfg) {
		rm.endGameLocked(room)
		return
	}

	room.phase = PhaseAnswering
	room.answers = make(map[PlayerID]string)
	room.votes = make(map[PlayerID]PlayerID)

	room.broadcastLocked(roundMessage{
		Type:     "newRound",
		Question: room.promptLocked(),
		Round:    room.round + 1,
		Total:    totalRounds(rm.cfg),
	})
}

// endGameLocked broadcasts the final standings and, when a leaderboard is
// configured, records a win for every player sharing the top score.
func (rm *RoomManager) endGameLocked(room *Room) {
	room.phase = PhaseFinished

	standings := make([]finalStanding, 0, len(room.players))
	for _, p := range room.players {
		standings = append(standings, finalStanding{
			Name:   p.Name,
			Avatar: p.Avatar,
			Score:  room.scores[p.ID],
		})
	}

	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})

	room.broadcastLocked(gameFinishedMessage{
		Type:      "gameFinished",
		Standings: standings,
	})

	logf("GAMES: Room %s finished after %d rounds", room.code, room.round)

	if rm.leaderboard == nil || len(standings) == 0 {
		return
	}

	winners := make([]string, 0, 1)
	for _, s := range standings {
		if s.Score < standings[0].Score {
			break
		}
		winners = append(winners, s.Name)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		for _, name := range winners {
			if err := rm.leaderboard.RecordWin(ctx, name); err != nil {
				logger.Errorf("GAMES: Recording win for %q failed: %v", name, err)
			}
		}
	}()
}

// disconnect handles a transport-level disconnection. A departing host takes
// the whole room down with them; a departing player is removed from the
// roster along with their per-round state.
func (rm *RoomManager) disconnect(c *Client) {
	room := c.room
	if room == nil {
		return
	}
	c.room = nil

	if room.host == c.id {
		rm.destroyRoom(room)
		logf("GAMES: Room %s closed (host left)", room.code)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed {
		return
	}

	room.touchLocked()

	delete(room.clients, c)

	found := false
	dst := room.players[:0]
	for _, p := range room.players {
		if p.ID == c.id {
			found = true
			continue
		}
		dst = append(dst, p)
	}
	room.players = dst

	if !found {
		return
	}

	delete(room.scores, c.id)
	delete(room.answers, c.id)
	delete(room.votes, c.id)

	room.broadcastLocked(playerLeftMessage{
		Type:     "playerLeft",
		PlayerID: c.id,
		Players:  room.rosterLocked(),
	})

	logf("GAMES: Player %s left %s", c.id, room.code)
}
