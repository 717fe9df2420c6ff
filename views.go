// State partitioning: the canonical room state is projected into exactly two
// serializable shapes. PublicView is what every room member may see, and its
// player type has no role field at all, so a secret cannot leak by a missed
// redaction. PrivateView is addressed to a single player and is re-derivable
// at any time for reconnects.

package main

// PublicPlayer is a room member as everyone sees them.
type PublicPlayer struct {
	Name       string   `json:"name"`
	IsHost     bool     `json:"isHost"`
	Ready      bool     `json:"ready"`
	Connected  bool     `json:"connected"`
	Eliminated bool     `json:"eliminated"`
	Clues      []string `json:"clues"`
}

// PublicSession is the shared slice of an active session. The word pair
// appears only once the session has reached results.
type PublicSession struct {
	Phase          Phase     `json:"phase"`
	Round          int       `json:"round,omitempty"`
	CurrentTurn    int       `json:"currentTurn"`
	TurnOrder      []int     `json:"turnOrder"`
	MaxRounds      int       `json:"maxRounds"`
	Winner         Winner    `json:"winner,omitempty"`
	CivilianWord   *WordSide `json:"civilianWord,omitempty"`
	UndercoverWord *WordSide `json:"undercoverWord,omitempty"`
}

// PublicView is the full broadcast state of a room.
type PublicView struct {
	RoomID   string         `json:"roomId"`
	Players  []PublicPlayer `json:"players"`
	Settings Settings       `json:"settings"`
	Session  *PublicSession `json:"session,omitempty"`
}

// PrivateView carries one player's secret. Mister White has no word, which
// HasWord states explicitly rather than leaving an empty string to interpret.
type PrivateView struct {
	Role       Role   `json:"role"`
	HasWord    bool   `json:"hasWord"`
	Word       string `json:"word,omitempty"`
	Definition string `json:"definition,omitempty"`
}

func publicSession(s *session) *PublicSession {
	if s == nil {
		return nil
	}

	view := &PublicSession{
		Phase:     s.phase(),
		TurnOrder: append([]int(nil), s.turnOrder...),
		MaxRounds: s.maxRounds,
	}

	switch st := s.state.(type) {
	case *turnState:
		view.Round = st.Round
		view.CurrentTurn = st.Turn
	case voteState:
		view.Round = st.Round
	case resultsState:
		view.Winner = st.Winner
		civilian, undercover := s.pair.Civilian, s.pair.Undercover
		view.CivilianWord = &civilian
		view.UndercoverWord = &undercover
	}

	return view
}

func privateView(s *session, seatIdx int) (PrivateView, bool) {
	if s == nil || seatIdx < 0 || seatIdx >= len(s.seats) {
		return PrivateView{}, false
	}

	switch s.seats[seatIdx].Role {
	case RoleUndercover:
		return PrivateView{
			Role:       RoleUndercover,
			HasWord:    true,
			Word:       s.pair.Undercover.Word,
			Definition: s.pair.Undercover.Definition,
		}, true
	case RoleMisterWhite:
		return PrivateView{
			Role:    RoleMisterWhite,
			HasWord: false,
		}, true
	default:
		return PrivateView{
			Role:       RoleCivilian,
			HasWord:    true,
			Word:       s.pair.Civilian.Word,
			Definition: s.pair.Civilian.Definition,
		}, true
	}
}
