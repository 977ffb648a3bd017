// Smekhlyst is a quiplash-style answer-and-vote game
// One person hosts the game on a shared screen; everyone else joins from a phone using a short room code or a QR scan
// Each round, all players get the same prompt and write a funny answer
// Once everyone has answered, the answers are shown in a shuffled order and everyone votes for the funniest one (not their own)
// A vote is worth 1000 points; scores accumulate across rounds
// After the last round, the final standings are shown

// Display formats:
// Host screen: room code + QR in the lobby, then prompt/progress/results for the room
// Phone: join form, answer box, voting ballots

// Implementation details:
// - One websocket endpoint; createGame/joinGame events associate a session with a room
// - The host is the session that created the room and is not a player; if the host leaves, the room ends
// - Rounds per game = min(number of prompts, configured maximum)
// - All-answered and all-voted thresholds advance the phase after a short pause, so clients can render the final count first

package games
