// Smekhlyst
//
// A quiplash-style party game. The host opens the game on a shared screen and
// gets a four-character room code (and a QR code) for players to join from
// their phones. Each round, everyone answers the same prompt, then votes for
// the funniest answer (never their own). A vote is worth 1000 points; after
// the final round the standings decide the winner.
//
// Features:
// - Single WebSocket endpoint; sessions are associated with a room by the
//   createGame/joinGame events, mirroring the client protocol
// - Four-character base-36 room codes via crypto/rand, collision-checked
//   against active rooms
// - Host-driven phase machine: lobby -> answering -> voting -> results ->
//   answering | finished; host disconnect destroys the room
// - All-answered / all-voted thresholds advance the phase after a short
//   configurable pause, via a cancellable per-room timer
// - Ballots are uniformly shuffled before the voting phase
// - Idle rooms auto-reaped after a configurable timeout
// - In-browser QR button to share the room URL, backed by go-qrcode
// - Optional redis-backed all-time win leaderboard

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type clientMessage struct {
	Type     string `json:"type"`               // "createGame", "joinGame", "startGame", "submitAnswer", "vote", "nextRound"
	RoomCode string `json:"roomCode,omitempty"` // joinGame
	Name     string `json:"name,omitempty"`     // joinGame
	Avatar   string `json:"avatar,omitempty"`   // joinGame
	Answer   string `json:"answer,omitempty"`   // submitAnswer
	Target   string `json:"target,omitempty"`   // vote
}

// Messages sent to clients

type errorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type gameCreatedMessage struct {
	Type     string `json:"type"` // "gameCreated"
	RoomCode string `json:"roomCode"`
}

type joinSuccessMessage struct {
	Type   string `json:"type"` // "joinSuccess"
	Player Player `json:"player"`
}

type playerJoinedMessage struct {
	Type    string   `json:"type"` // "playerJoined"
	Player  Player   `json:"player"`
	Players []Player `json:"players"`
}

type playerLeftMessage struct {
	Type     string   `json:"type"` // "playerLeft"
	PlayerID PlayerID `json:"playerId"`
	Players  []Player `json:"players"`
}

// roundMessage announces an answering phase, either the first one
// ("gameStarted") or a later one ("newRound").
type roundMessage struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	Round    int    `json:"round"` // 1-based for display
	Total    int    `json:"total"`
}

// progressMessage reports how many answers ("answerProgress") or votes
// ("voteProgress") have arrived so far this round.
type progressMessage struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

type votingAnswer struct {
	ID     PlayerID `json:"id"` // answer owner, used as the vote target
	Text   string   `json:"text"`
	Player Player   `json:"player"`
}

type votingStartedMessage struct {
	Type     string         `json:"type"` // "votingStarted"
	Question string         `json:"question"`
	Answers  []votingAnswer `json:"answers"`
}

type roundResult struct {
	ID     PlayerID `json:"id"`
	Name   string   `json:"name"`
	Avatar string   `json:"avatar"`
	Answer string   `json:"answer"`
	Votes  int      `json:"votes"` // votes received this round
	Score  int      `json:"score"` // cumulative
}

type roundResultsMessage struct {
	Type    string        `json:"type"` // "roundResults"
	Results []roundResult `json:"results"`
}

type finalStanding struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Score  int    `json:"score"`
}

type gameFinishedMessage struct {
	Type      string          `json:"type"` // "gameFinished"
	Standings []finalStanding `json:"standings"`
}

type hostLeftMessage struct {
	Type string `json:"type"` // "hostLeft"
}

type Client struct {
	conn *websocket.Conn
	send chan any

	id   PlayerID
	room *Room // current association; only touched by this client's reader
}

// trySend queues a message for this client, dropping it if the client cannot
// keep up.
func (c *Client) trySend(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(text string) {
	c.trySend(errorMessage{
		Type:    "error",
		Message: text,
	})
}

func (c *Client) readPump(rm *RoomManager) {
	defer func() {
		rm.disconnect(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "createGame":
			rm.createRoom(c)
		case "joinGame":
			rm.joinRoom(c, strings.ToUpper(strings.TrimSpace(msg.RoomCode)), msg.Name, msg.Avatar)
		case "startGame":
			rm.startGame(c)
		case "submitAnswer":
			rm.submitAnswer(c, msg.Answer)
		case "vote":
			rm.vote(c, PlayerID(msg.Target))
		case "nextRound":
			rm.nextRound(c)
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Errorf("GAMES: Upgrade failed: %v", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   PlayerID(uuid.NewString()),
		}

		logf("GAMES: Session %s connected from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(rm)
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../room/:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveGamePage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/smekhlyst/index.html")
		if err != nil {
			http.Error(w, "missing game page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

func serveLeaderboard(cfg *Config, leaderboard *Leaderboard, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		entries, err := leaderboard.Top(r.Context(), 10)
		if err != nil {
			http.Error(w, "leaderboard unavailable", http.StatusInternalServerError)
			errs <- err
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(entries); err != nil {
			errs <- err
		}
	}
}

// registerSmekhlystGame sets up routes so that:
//   - $path                 → game client (host screen, shows a fresh room)
//   - $path/room/:code      → game client prefilled with a room code
//   - $path/room/:code/qr   → PNG QR code for that room URL
//   - $path/ws              → shared WebSocket endpoint
//   - $path/leaderboard     → all-time win leaderboard (when redis is set)
func registerSmekhlystGame(cfg *Config, path string, mux *httprouter.Router, leaderboard *Leaderboard, errs chan<- error) *RoomManager {
	rm := newRoomManager(cfg, leaderboard)

	mux.GET(cfg.prefix+path, serveGamePage(cfg))

	mux.GET(cfg.prefix+path+"/room/:code", serveGamePage(cfg))

	mux.GET(cfg.prefix+path+"/room/:code/qr", qrHandler)

	mux.GET(cfg.prefix+path+"/ws", serveWS(rm))

	if leaderboard != nil {
		mux.GET(cfg.prefix+path+"/leaderboard", serveLeaderboard(cfg, leaderboard, errs))
	}

	return rm
}
