package game

// State is the game-wide phase as seen by this client.
type State int

const (
	StateLobby State = iota
	StateGame
	StateLobbyGameOver
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "Lobby"
	case StateGame:
		return "Game"
	case StateLobbyGameOver:
		return "LobbyGameOver"
	default:
		return "Unknown"
	}
}
