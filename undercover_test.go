package main

import (
	"strings"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		disconnectPolicy: string(DisconnectWait),
		playerTimeout:    time.Minute,
		sessionTimeout:   time.Hour,
	}
}

func testClient(playerID string) *Client {
	return &Client{
		send:     make(chan any, 64),
		playerID: playerID,
	}
}

// drain empties a client's send buffer without blocking.
func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func lastGameMessage(t *testing.T, msgs []any) GameMessage {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if game, ok := msgs[i].(GameMessage); ok {
			return game
		}
	}
	t.Fatal("no game message received")
	return GameMessage{}
}

func findError(msgs []any) *ErrorMessage {
	for _, msg := range msgs {
		if e, ok := msg.(ErrorMessage); ok {
			return &e
		}
	}
	return nil
}

func findPrivate(t *testing.T, msgs []any) PrivateMessage {
	t.Helper()
	for _, msg := range msgs {
		if p, ok := msg.(PrivateMessage); ok {
			return p
		}
	}
	t.Fatal("no private message received")
	return PrivateMessage{}
}

// joinTestRoom wires n registered, joined clients into a fresh hub without
// going through websockets.
func joinTestRoom(cfg *Config, names ...string) (*Hub, []*Client) {
	hub := newHub("TEST42", builtinPairs, nil, nil)

	clients := make([]*Client, len(names))
	for i, name := range names {
		clients[i] = testClient("player-" + name)
		hub.handleRegister(clients[i])
		hub.handleJoin(cfg, clients[i], ClientMessage{Type: "join", Name: name})
	}

	return hub, clients
}

func TestJoinMakesFirstPlayerHost(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben")

	if !hub.players[0].isHost || hub.players[1].isHost {
		t.Errorf("host flags = %t, %t; want true, false", hub.players[0].isHost, hub.players[1].isHost)
	}

	var joined *JoinedMessage
	for _, msg := range drain(clients[0]) {
		if j, ok := msg.(JoinedMessage); ok {
			joined = &j
		}
	}
	if joined == nil {
		t.Fatal("no joined ack")
	}
	if !joined.IsHost || joined.RoomID != "TEST42" {
		t.Errorf("joined ack = %+v", joined)
	}
}

func TestJoinTrimsAndRejectsDuplicates(t *testing.T) {
	cfg := testConfig()
	hub, _ := joinTestRoom(cfg, "ana")

	padded := testClient("player-2")
	hub.handleRegister(padded)
	hub.handleJoin(cfg, padded, ClientMessage{Type: "join", Name: "  ben  "})
	if hub.players[1].name != "ben" {
		t.Errorf("name %q, want trimmed %q", hub.players[1].name, "ben")
	}

	dupe := testClient("player-3")
	hub.handleRegister(dupe)
	drain(dupe)
	hub.handleJoin(cfg, dupe, ClientMessage{Type: "join", Name: "ana"})

	e := findError(drain(dupe))
	if e == nil || e.Code != ErrNameTaken {
		t.Fatalf("got %+v, want NameTaken", e)
	}
	if len(hub.players) != 2 {
		t.Errorf("roster grew to %d after rejected join", len(hub.players))
	}

	blank := testClient("player-4")
	hub.handleRegister(blank)
	hub.handleJoin(cfg, blank, ClientMessage{Type: "join", Name: "   "})
	if len(hub.players) != 2 {
		t.Error("blank name was admitted")
	}
}

func TestSettingsRequireHost(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben")
	drain(clients[1])

	rounds := 5
	hub.handleSettings(clients[1], ClientMessage{
		Type:     "settings",
		Settings: &SettingsPatch{MaxRounds: &rounds},
	})

	e := findError(drain(clients[1]))
	if e == nil || e.Code != ErrNotHost {
		t.Fatalf("got %+v, want NotHost", e)
	}
	if hub.settings.MaxRounds != defaultSettings().MaxRounds {
		t.Error("non-host changed the settings")
	}
}

func TestSettingsPatchIsPartial(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana")

	white := true
	hub.handleSettings(clients[0], ClientMessage{
		Type:     "settings",
		Settings: &SettingsPatch{IncludeMisterWhite: &white},
	})

	if !hub.settings.IncludeMisterWhite {
		t.Error("includeMisterWhite not applied")
	}
	if hub.settings.MaxRounds != defaultSettings().MaxRounds {
		t.Error("untouched field changed")
	}

	zero := 0
	hub.handleSettings(clients[0], ClientMessage{
		Type:     "settings",
		Settings: &SettingsPatch{MaxRounds: &zero},
	})
	if hub.settings.MaxRounds != defaultSettings().MaxRounds {
		t.Error("invalid maxRounds was accepted")
	}
}

func TestStartChecks(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben")
	drain(clients[1])

	hub.handleStart(cfg, clients[1])
	if e := findError(drain(clients[1])); e == nil || e.Code != ErrNotHost {
		t.Fatalf("got %+v, want NotHost", e)
	}

	drain(clients[0])
	hub.handleStart(cfg, clients[0])
	if e := findError(drain(clients[0])); e == nil || e.Code != ErrInsufficientPlayers {
		t.Fatalf("got %+v, want InsufficientPlayers", e)
	}
	if hub.session != nil {
		t.Error("session started with too few players")
	}
}

func TestStartDealsWordsAndOpensRoundOne(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	for _, c := range clients {
		drain(c)
	}

	hub.handleStart(cfg, clients[0])

	if hub.session == nil {
		t.Fatal("no session after start")
	}

	for i, c := range clients {
		msgs := drain(c)

		private := findPrivate(t, msgs)
		want, _ := privateView(hub.session, i)
		if private.View != want {
			t.Errorf("client %d private view = %+v, want %+v", i, private.View, want)
		}

		// Setup state is broadcast before the first round opens.
		var phases []Phase
		for _, msg := range msgs {
			if game, ok := msg.(GameMessage); ok && game.State.Session != nil {
				phases = append(phases, game.State.Session.Phase)
			}
		}
		if len(phases) != 2 || phases[0] != PhaseSetup || phases[1] != PhaseTurn {
			t.Errorf("client %d saw phases %v, want [setup turn]", i, phases)
		}
	}

	if hub.session.phase() != PhaseTurn {
		t.Errorf("phase %q, want turn", hub.session.phase())
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.handleStart(cfg, clients[0])
	drain(clients[0])
	hub.handleStart(cfg, clients[0])

	if e := findError(drain(clients[0])); e == nil || e.Code != ErrWrongPhase {
		t.Fatalf("got %+v, want WrongPhase", e)
	}
}

func TestFullGameToCivilianWin(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.settings.MaxRounds = 1
	hub.handleStart(cfg, clients[0])

	for _, c := range clients {
		drain(c)
	}

	// Clues in turn order; everyone else gets turned away.
	for range clients {
		current := hub.session.turnOrder[hub.session.state.(*turnState).Turn]

		wrong := clients[(current+1)%len(clients)]
		hub.handleClue(wrong, ClientMessage{Type: "clue", Clue: "jumping the queue"})
		if e := findError(drain(wrong)); e == nil || e.Code != ErrNotYourTurn {
			t.Fatalf("got %+v, want NotYourTurn", e)
		}

		hub.handleClue(clients[current], ClientMessage{Type: "clue", Clue: "quelque chose"})
	}

	if hub.session.phase() != PhaseVote {
		t.Fatalf("phase %q after all clues, want vote", hub.session.phase())
	}

	undercoverSeat := -1
	for i := range hub.session.seats {
		if hub.session.seats[i].Role == RoleUndercover {
			undercoverSeat = i
		}
	}
	if undercoverSeat == -1 {
		t.Fatal("no undercover dealt")
	}

	drain(clients[0])
	hub.handleVote(cfg, clients[0], ClientMessage{Type: "vote", Player: &undercoverSeat})

	game := lastGameMessage(t, drain(clients[0]))
	if game.Eliminated == nil || game.Eliminated.Role != RoleUndercover {
		t.Fatalf("eliminated annotation = %+v", game.Eliminated)
	}
	if game.State.Session.Phase != PhaseResults || game.State.Session.Winner != WinnerCivilians {
		t.Errorf("results view = %+v", game.State.Session)
	}
	if game.State.Session.CivilianWord == nil {
		t.Error("results did not reveal the word pair")
	}
}

func TestMisterWhiteGuessFlow(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.settings.IncludeMisterWhite = true
	hub.settings.MaxRounds = 1
	hub.handleStart(cfg, clients[0])

	for _, c := range clients {
		drain(c)
	}

	for range clients {
		current := hub.session.turnOrder[hub.session.state.(*turnState).Turn]
		hub.handleClue(clients[current], ClientMessage{Type: "clue", Clue: "un indice"})
	}

	whiteSeat := -1
	for i := range hub.session.seats {
		if hub.session.seats[i].Role == RoleMisterWhite {
			whiteSeat = i
		}
	}
	if whiteSeat == -1 {
		t.Fatal("no mister-white dealt despite the setting")
	}

	hub.handleVote(cfg, clients[0], ClientMessage{Type: "vote", Player: &whiteSeat})
	if hub.session.phase() != PhaseWhiteGuess {
		t.Fatalf("phase %q after voting out the white, want guess phase", hub.session.phase())
	}

	bystander := clients[(whiteSeat+1)%len(clients)]
	drain(bystander)
	hub.handleGuess(cfg, bystander, ClientMessage{Type: "guess", Guess: "Plage"})
	if e := findError(drain(bystander)); e == nil || e.Code != ErrNotEligible {
		t.Fatalf("got %+v, want NotEligible", e)
	}

	drain(clients[whiteSeat])
	word := strings.ToLower(hub.session.pair.Civilian.Word)
	hub.handleGuess(cfg, clients[whiteSeat], ClientMessage{Type: "guess", Guess: " " + word + " "})

	game := lastGameMessage(t, drain(clients[whiteSeat]))
	if game.WhiteGuess == nil || !game.WhiteGuess.Correct {
		t.Fatalf("guess annotation = %+v", game.WhiteGuess)
	}
	if game.State.Session.Winner != WinnerMisterWhite {
		t.Errorf("winner %q, want mister-white", game.State.Session.Winner)
	}
}

func TestReconnectRederivesPrivateState(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.handleStart(cfg, clients[0])
	original := findPrivate(t, drain(clients[1]))

	rejoined := testClient(clients[1].playerID)
	hub.handleRegister(rejoined)

	msgs := drain(rejoined)

	var info *SessionInfoMessage
	for _, msg := range msgs {
		if m, ok := msg.(SessionInfoMessage); ok {
			info = &m
		}
	}
	if info == nil || !info.IsExisting || info.Name != "ben" {
		t.Fatalf("session info = %+v", info)
	}

	if replayed := findPrivate(t, msgs); replayed.View != original.View {
		t.Errorf("reconnect view = %+v, want %+v", replayed.View, original.View)
	}

	game := lastGameMessage(t, msgs)
	if game.State == nil || game.State.Session == nil {
		t.Error("reconnect did not receive the game state")
	}
}

func TestDepartedHostIsReplacedInJoinOrder(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	delete(hub.clients, clients[0])
	hub.scheduleRemoval(cfg, clients[0].playerID, 0)

	if len(hub.players) != 2 {
		t.Fatalf("roster size %d, want 2", len(hub.players))
	}
	if hub.players[0].name != "ben" || !hub.players[0].isHost {
		t.Errorf("new host = %+v, want ben", hub.players[0])
	}
	if hub.players[1].isHost {
		t.Error("two hosts after reassignment")
	}
}

func TestLastPlayerLeavingEmptiesRoom(t *testing.T) {
	cfg := testConfig()

	emptied := make(chan string, 1)
	hub := newHub("TEST42", builtinPairs, nil, func(roomID string) {
		emptied <- roomID
	})

	c := testClient("player-solo")
	hub.handleRegister(c)
	hub.handleJoin(cfg, c, ClientMessage{Type: "join", Name: "solo"})

	delete(hub.clients, c)
	hub.scheduleRemoval(cfg, c.playerID, 0)

	select {
	case roomID := <-emptied:
		if roomID != "TEST42" {
			t.Errorf("emptied room %q, want TEST42", roomID)
		}
	case <-time.After(time.Second):
		t.Fatal("empty room was never reported")
	}
}

func TestDisconnectPolicies(t *testing.T) {
	t.Run("wait keeps the seat", func(t *testing.T) {
		cfg := testConfig()
		hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")
		hub.handleStart(cfg, clients[0])

		delete(hub.clients, clients[1])
		hub.scheduleRemoval(cfg, clients[1].playerID, 0)

		if hub.session.seats[1].Eliminated {
			t.Error("wait policy eliminated the seat")
		}
		if len(hub.players) != 3 {
			t.Error("wait policy removed the roster entry")
		}
	})

	t.Run("eliminate drops the seat", func(t *testing.T) {
		cfg := testConfig()
		cfg.disconnectPolicy = string(DisconnectEliminate)

		hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo", "dan")
		hub.handleStart(cfg, clients[0])

		// Seat 0 is drained as the observer below, so it must stay connected.
		civilianSeat := -1
		for i := 1; i < len(hub.session.seats); i++ {
			if hub.session.seats[i].Role == RoleCivilian {
				civilianSeat = i
				break
			}
		}

		drain(clients[0])
		delete(hub.clients, clients[civilianSeat])
		hub.scheduleRemoval(cfg, clients[civilianSeat].playerID, 0)

		if !hub.session.seats[civilianSeat].Eliminated {
			t.Fatal("eliminate policy left the seat in play")
		}
		if len(hub.players) != 4 {
			t.Error("mid-game roster entry was removed")
		}

		game := lastGameMessage(t, drain(clients[0]))
		if game.Eliminated == nil || game.Eliminated.Role != RoleCivilian {
			t.Errorf("eliminated annotation = %+v", game.Eliminated)
		}
	})
}

func TestRestartResetsSessionState(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.handleStart(cfg, clients[0])

	firstPair := hub.session.pair
	hub.session.seats[1].Eliminated = true
	hub.session.state = resultsState{Winner: WinnerCivilians}

	hub.handleReady(clients[1])
	if !hub.players[1].ready {
		t.Fatal("ready flag not set")
	}

	hub.handleStart(cfg, clients[0])

	for i := range hub.session.seats {
		if hub.session.seats[i].Eliminated {
			t.Errorf("seat %d still eliminated in the new session", i)
		}
		if len(hub.session.seats[i].Clues) != 0 {
			t.Errorf("seat %d kept clues from the old session", i)
		}
	}
	for i := range hub.players {
		if hub.players[i].ready {
			t.Errorf("player %d still ready after restart", i)
		}
	}

	// Word de-duplication spans sessions within a room.
	if hub.session.pair.Civilian.Word == firstPair.Civilian.Word {
		t.Error("second session reused the first session's pair")
	}
}

func TestDepartedPlayersSweptAtResults(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.handleStart(cfg, clients[0])

	// The host drops mid-game under the wait policy: the seat and roster
	// entry survive the session, flagged for removal.
	hub.handleUnregister(cfg, clients[0])
	hub.scheduleRemoval(cfg, clients[0].playerID, 0)

	if len(hub.players) != 3 {
		t.Fatalf("mid-session roster size %d, want 3", len(hub.players))
	}
	if !hub.players[0].departed {
		t.Fatal("expired grace period did not flag the player")
	}

	hub.session.state = voteState{Round: 1}

	undercoverSeat := -1
	for i := range hub.session.seats {
		if hub.session.seats[i].Role == RoleUndercover {
			undercoverSeat = i
		}
	}

	hub.handleVote(cfg, clients[1], ClientMessage{Type: "vote", Player: &undercoverSeat})

	if hub.session.phase() != PhaseResults {
		t.Fatalf("phase %q, want results", hub.session.phase())
	}
	if len(hub.players) != 2 {
		t.Fatalf("roster size %d after results, want the departed host swept", len(hub.players))
	}
	if hub.players[0].name != "ben" || !hub.players[0].isHost {
		t.Errorf("new host = %+v, want ben", hub.players[0])
	}

	// The inherited host can run the finished room.
	drain(clients[1])
	rounds := 3
	hub.handleSettings(clients[1], ClientMessage{
		Type:     "settings",
		Settings: &SettingsPatch{MaxRounds: &rounds},
	})
	if e := findError(drain(clients[1])); e != nil {
		t.Fatalf("inherited host was rejected: %+v", e)
	}
	if hub.settings.MaxRounds != 3 {
		t.Errorf("maxRounds = %d, want 3", hub.settings.MaxRounds)
	}
}

func TestReturningPlayerIsUnflagged(t *testing.T) {
	cfg := testConfig()
	hub, clients := joinTestRoom(cfg, "ana", "ben", "cleo")

	hub.handleStart(cfg, clients[0])

	hub.handleUnregister(cfg, clients[1])
	hub.scheduleRemoval(cfg, clients[1].playerID, 0)
	if !hub.players[1].departed {
		t.Fatal("expired grace period did not flag the player")
	}

	rejoined := testClient(clients[1].playerID)
	hub.handleRegister(rejoined)

	if hub.players[1].departed || !hub.players[1].connected {
		t.Errorf("rejoined player = %+v, want connected and unflagged", hub.players[1])
	}

	hub.session.state = resultsState{Winner: WinnerCivilians}
	hub.sweepDepartedLocked()
	if len(hub.players) != 3 {
		t.Errorf("roster size %d, rejoined player was swept", len(hub.players))
	}
}

func TestReapedRoomReleasesConnections(t *testing.T) {
	// A reaped hub has no run loop left; connection goroutines must still
	// get out of their channel sends.
	hub := newHub("TEST42", builtinPairs, nil, nil)
	close(hub.quit)

	attached := make(chan bool, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)

		c := testClient("player-late")
		attached <- hub.attach(c)
		_ = hub.deliver(inboundEvent{client: c, msg: ClientMessage{Type: "ready"}})
		hub.release(c)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sends to a reaped room blocked")
	}

	if <-attached {
		t.Error("attach succeeded on a reaped room")
	}
}

func TestRandomRoomID(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		id := randomRoomID(6)
		if len(id) != 6 {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", r) {
				t.Fatalf("id %q contains unexpected rune %q", id, r)
			}
		}
		seen[id] = true
	}

	if len(seen) < 95 {
		t.Errorf("only %d distinct ids out of 100", len(seen))
	}
}

func TestGameManagerLookupIgnoresCase(t *testing.T) {
	cfg := testConfig()
	gm := &GameManager{
		hubs:  make(map[string]*Hub),
		pairs: builtinPairs,
	}

	hub := gm.createRoom(cfg)
	defer gm.removeRoom(hub.id)

	if gm.lookup(strings.ToLower(hub.id)) != hub {
		t.Error("lowercase lookup missed the room")
	}
	if gm.lookup("NOSUCH") != nil {
		t.Error("lookup invented a room")
	}
}
