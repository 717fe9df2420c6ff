// Core rules for the Undercover word game.
//
// A session is a closed world: it snapshots the room roster at start time
// into seats, deals secret roles and a word pair, and then walks the phases
// setup → turn → vote → mister-white-guess (conditional) → results. All
// functions here are pure with respect to I/O; randomness comes in through
// an explicit *rand.Rand so every deal is reproducible under test. The hub
// in undercover.go is the only caller and serializes access.

package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const minPlayersToStart = 3

type Role string

const (
	RoleCivilian    Role = "civilian"
	RoleUndercover  Role = "undercover"
	RoleMisterWhite Role = "mister-white"
)

type Winner string

const (
	WinnerCivilians   Winner = "civilians"
	WinnerUndercovers Winner = "undercovers"
	WinnerMisterWhite Winner = "mister-white"
)

type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseTurn       Phase = "turn"
	PhaseVote       Phase = "vote"
	PhaseWhiteGuess Phase = "mister-white-guess"
	PhaseResults    Phase = "results"
)

// Settings are per-room and host-controlled.
type Settings struct {
	IncludeMisterWhite bool `json:"includeMisterWhite"`
	UseCustomWords     bool `json:"useCustomWords"`
	MaxRounds          int  `json:"maxRounds"`
}

func defaultSettings() Settings {
	return Settings{
		IncludeMisterWhite: false,
		UseCustomWords:     false,
		MaxRounds:          2,
	}
}

// RuleCode identifies why a request was rejected. These are player-facing
// and recoverable; they never affect other players or the room.
type RuleCode string

const (
	ErrRoomNotFound        RuleCode = "RoomNotFound"
	ErrNameTaken           RuleCode = "NameTaken"
	ErrNotHost             RuleCode = "NotHost"
	ErrWrongPhase          RuleCode = "WrongPhase"
	ErrNotYourTurn         RuleCode = "NotYourTurn"
	ErrNotEligible         RuleCode = "NotEligible"
	ErrInsufficientPlayers RuleCode = "InsufficientPlayers"
)

type RuleError struct {
	Code    RuleCode
	Message string
}

func (e *RuleError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func ruleErrorf(code RuleCode, format string, args ...any) *RuleError {
	return &RuleError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// seat is one player's standing inside a session. Seat indices are the
// player indices used on the wire (turn order, vote targets) and are fixed
// for the session's lifetime even if the room roster changes afterwards.
type seat struct {
	Name       string
	Role       Role
	Eliminated bool
	Clues      []string
}

// Exactly one phaseData variant is live at a time, and each variant carries
// only the fields meaningful in that phase.
type phaseData interface {
	phase() Phase
}

type setupState struct{}

type turnState struct {
	Round int // 1-based clue round
	Turn  int // index into turnOrder
}

type voteState struct {
	Round int // the round the vote was forced after
}

type whiteGuessState struct {
	Eliminated int // seat index of the voted-out mister-white
}

type resultsState struct {
	Winner Winner
}

func (setupState) phase() Phase      { return PhaseSetup }
func (*turnState) phase() Phase      { return PhaseTurn }
func (voteState) phase() Phase       { return PhaseVote }
func (whiteGuessState) phase() Phase { return PhaseWhiteGuess }
func (resultsState) phase() Phase    { return PhaseResults }

type session struct {
	seats     []seat
	pair      WordPair
	turnOrder []int
	maxRounds int
	state     phaseData
}

// assignRoles deals a role to each of n seats: max(1, n/3) non-civilians,
// the first of which is mister-white when enabled, dealt across a uniform
// random permutation.
func assignRoles(n int, includeMisterWhite bool, rng *rand.Rand) []Role {
	roles := make([]Role, n)
	for i := range roles {
		roles[i] = RoleCivilian
	}

	numSpecial := max(1, n/3)

	for i, idx := range rng.Perm(n)[:numSpecial] {
		if includeMisterWhite && i == 0 {
			roles[idx] = RoleMisterWhite
		} else {
			roles[idx] = RoleUndercover
		}
	}

	return roles
}

// newSession deals roles and a word pair for the given players. The used
// set is consulted for word de-duplication and updated with the chosen
// pair.
func newSession(names []string, settings Settings, pool []WordPair, used map[string]bool, rng *rand.Rand) *session {
	roles := assignRoles(len(names), settings.IncludeMisterWhite, rng)

	pair := choosePair(pool, used, rng)
	used[pair.Civilian.Word] = true
	used[pair.Undercover.Word] = true

	seats := make([]seat, len(names))
	turnOrder := make([]int, len(names))
	for i, name := range names {
		seats[i] = seat{
			Name:  name,
			Role:  roles[i],
			Clues: []string{},
		}
		turnOrder[i] = i
	}

	maxRounds := settings.MaxRounds
	if maxRounds < 1 {
		maxRounds = defaultSettings().MaxRounds
	}

	return &session{
		seats:     seats,
		pair:      pair,
		turnOrder: turnOrder,
		maxRounds: maxRounds,
		state:     setupState{},
	}
}

// begin moves a freshly dealt session from word distribution into the
// first clue round.
func (s *session) begin() {
	if _, ok := s.state.(setupState); !ok {
		return
	}
	s.state = &turnState{Round: 1, Turn: 0}
}

func (s *session) phase() Phase {
	return s.state.phase()
}

func (s *session) terminal() bool {
	_, ok := s.state.(resultsState)
	return ok
}

// submitClue records a clue for the seat whose turn it is and advances the
// turn pointer, rolling over into the next round or, once maxRounds have
// been played, into voting.
func (s *session) submitClue(seatIdx int, clue string) *RuleError {
	ts, ok := s.state.(*turnState)
	if !ok {
		return ruleErrorf(ErrWrongPhase, "clues are not being collected right now")
	}

	if s.turnOrder[ts.Turn] != seatIdx {
		return ruleErrorf(ErrNotYourTurn, "it is not your turn to give a clue")
	}

	s.seats[seatIdx].Clues = append(s.seats[seatIdx].Clues, clue)

	switch {
	case ts.Turn < len(s.turnOrder)-1:
		ts.Turn++
	case ts.Round >= s.maxRounds:
		s.state = voteState{Round: ts.Round}
	default:
		ts.Round++
		ts.Turn = 0
	}

	return nil
}

// vote eliminates the targeted seat. Voting out the mister-white always
// detours through the guess phase, even when the elimination would already
// decide the game.
func (s *session) vote(target int) (*seat, *RuleError) {
	if _, ok := s.state.(voteState); !ok {
		return nil, ruleErrorf(ErrWrongPhase, "voting is not open right now")
	}

	if target < 0 || target >= len(s.seats) {
		return nil, ruleErrorf(ErrNotEligible, "no such player")
	}
	if s.seats[target].Eliminated {
		return nil, ruleErrorf(ErrNotEligible, "that player is already out")
	}

	s.seats[target].Eliminated = true
	eliminated := &s.seats[target]

	if eliminated.Role == RoleMisterWhite {
		s.state = whiteGuessState{Eliminated: target}
	} else {
		s.afterElimination()
	}

	return eliminated, nil
}

// guess resolves the mister-white's attempt at the civilian word. The
// comparison ignores case and surrounding whitespace.
func (s *session) guess(seatIdx int, guess string) (bool, *RuleError) {
	gs, ok := s.state.(whiteGuessState)
	if !ok {
		return false, ruleErrorf(ErrWrongPhase, "there is no word to guess right now")
	}

	if seatIdx != gs.Eliminated {
		return false, ruleErrorf(ErrNotEligible, "only the eliminated Mister White may guess")
	}

	correct := strings.EqualFold(strings.TrimSpace(guess), strings.TrimSpace(s.pair.Civilian.Word))

	if correct {
		s.state = resultsState{Winner: WinnerMisterWhite}
	} else {
		s.afterElimination()
	}

	return correct, nil
}

// afterElimination settles the game state once the active set has shrunk:
// either a side has won, or turn order is rebuilt from the survivors (in
// original relative order) and clue collection restarts at round one.
func (s *session) afterElimination() {
	if winner, over := s.checkWin(); over {
		s.state = resultsState{Winner: winner}
		return
	}

	order := make([]int, 0, len(s.seats))
	for i := range s.seats {
		if !s.seats[i].Eliminated {
			order = append(order, i)
		}
	}

	s.turnOrder = order
	s.state = &turnState{Round: 1, Turn: 0}
}

// checkWin evaluates the standing win conditions over the active set.
// Civilians win once no undercover and no mister-white remain; undercovers
// win once they match the civilian headcount. The mister-white is not
// counted on the undercover side of that comparison. Winning by guess is
// handled in guess, not here.
func (s *session) checkWin() (Winner, bool) {
	var civilians, undercovers, whites int

	for i := range s.seats {
		if s.seats[i].Eliminated {
			continue
		}
		switch s.seats[i].Role {
		case RoleCivilian:
			civilians++
		case RoleUndercover:
			undercovers++
		case RoleMisterWhite:
			whites++
		}
	}

	switch {
	case undercovers == 0 && whites == 0:
		return WinnerCivilians, true
	case undercovers >= civilians:
		return WinnerUndercovers, true
	}

	return "", false
}

// eliminateAbsent applies the "eliminate" disconnect policy: the seat is
// removed from play as if voted out, except that a departed mister-white
// forfeits the guess outright.
func (s *session) eliminateAbsent(seatIdx int) *seat {
	if seatIdx < 0 || seatIdx >= len(s.seats) {
		return nil
	}
	if s.terminal() {
		return nil
	}

	if gs, ok := s.state.(whiteGuessState); ok {
		if gs.Eliminated == seatIdx {
			s.afterElimination()
			return &s.seats[seatIdx]
		}

		// The pending guess outlives other departures: the seat is marked
		// out, but the win check settles only once the guess resolves.
		if s.seats[seatIdx].Eliminated {
			return nil
		}
		s.seats[seatIdx].Eliminated = true
		return &s.seats[seatIdx]
	}

	if s.seats[seatIdx].Eliminated {
		return nil
	}

	s.seats[seatIdx].Eliminated = true
	s.afterElimination()

	return &s.seats[seatIdx]
}
