// Undercover game server
//
// Each room lives at /path/:roomid with a websocket at /path/:roomid/ws.
// Visiting /path creates a fresh room id and redirects into it. The first
// player to join a room becomes its host; the host controls the settings
// and starts the game once at least three players are in.
//
// A room's state is owned by a single Hub goroutine: every inbound event is
// funneled through channels and handled to completion before the next, so
// racing requests are serialized by arrival order and the loser is turned
// away by the phase and turn checks in game.go. Secret roles and words only
// ever leave the hub inside a PrivateView addressed to their owner.
//
// Players are identified by a cookie id, which doubles as the reconnect
// identity: a returning connection is re-sent the public state and its own
// private view, both derived from canonical state. Rooms are reaped after a
// configurable idle timeout, and immediately once the last player is gone.

package main

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log"
	mathrand "math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// roomPlayer is a roster entry: membership, not game standing. Game
// standing lives in the session's seats.
type roomPlayer struct {
	playerID  string
	name      string
	isHost    bool
	ready     bool
	connected bool
	departed  bool // grace period expired mid-session; swept at results
}

// Messages coming from clients
type ClientMessage struct {
	Type     string         `json:"type"`                          // "join", "settings", "ready", "start", "clue", "vote", "guess"
	Name     string         `json:"name,omitempty"`                // join
	Settings *SettingsPatch `json:"settings,omitempty"`            // settings
	Clue     string         `json:"clue,omitempty"`                // clue
	Player   *int           `json:"player,omitempty"`              // vote: seat index of the target
	Guess    string         `json:"guess,omitempty"`               // guess
}

// SettingsPatch is a partial settings update; absent fields keep their value.
type SettingsPatch struct {
	IncludeMisterWhite *bool `json:"includeMisterWhite,omitempty"`
	UseCustomWords     *bool `json:"useCustomWords,omitempty"`
	MaxRounds          *int  `json:"maxRounds,omitempty"`
}

// SessionInfoMessage is sent immediately on connect so the client knows
// whether this cookie already holds a seat in the room.
type SessionInfoMessage struct {
	Type       string `json:"type"` // "session_info"
	RoomID     string `json:"roomId"`
	IsExisting bool   `json:"is_existing"`
	IsHost     bool   `json:"is_host"`
	Name       string `json:"name,omitempty"`
}

// ErrorMessage reports a rejected request to the requester only.
type ErrorMessage struct {
	Type    string   `json:"type"` // "error"
	Code    RuleCode `json:"code"`
	Message string   `json:"message"`
}

// JoinedMessage acknowledges a successful join.
type JoinedMessage struct {
	Type    string         `json:"type"` // "joined"
	RoomID  string         `json:"roomId"`
	IsHost  bool           `json:"isHost"`
	Players []PublicPlayer `json:"players"`
}

// PlayersMessage broadcasts the roster.
type PlayersMessage struct {
	Type    string         `json:"type"` // "players"
	Players []PublicPlayer `json:"players"`
}

// SettingsMessage broadcasts the room settings.
type SettingsMessage struct {
	Type     string   `json:"type"` // "settings"
	Settings Settings `json:"settings"`
}

// EliminatedPlayer annotates the game update that voted a player out. The
// role reveal here is deliberate: elimination makes it public.
type EliminatedPlayer struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// GuessOutcome annotates the game update that resolved a Mister White guess.
type GuessOutcome struct {
	Guess   string `json:"guess"`
	Correct bool   `json:"isCorrect"`
}

// GameMessage broadcasts the public view, with optional annotations about
// the event that produced it.
type GameMessage struct {
	Type       string            `json:"type"` // "game"
	State      *PublicView       `json:"state"`
	Eliminated *EliminatedPlayer `json:"eliminatedPlayer,omitempty"`
	WhiteGuess *GuessOutcome     `json:"misterWhiteGuess,omitempty"`
}

// PrivateMessage carries one player's secret role and word. It is only ever
// sent to connections holding that player's cookie.
type PrivateMessage struct {
	Type string      `json:"type"` // "private"
	View PrivateView `json:"view"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type inboundEvent struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	clients map[*Client]bool
	players []roomPlayer // join order

	settings     Settings
	session      *session
	seatByPlayer map[string]int // cookie id -> seat index, fixed at start
	usedWords    map[string]bool

	pairs  []WordPair // stock pool
	custom []WordPair // pool extension when useCustomWords is set

	register chan *Client
	unreg    chan *Client
	events   chan inboundEvent
	quit     chan struct{}

	rng *mathrand.Rand

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	onEmpty func(roomID string)
}

func newHub(roomID string, pairs, custom []WordPair, onEmpty func(string)) *Hub {
	now := time.Now()
	return &Hub{
		id:           roomID,
		clients:      make(map[*Client]bool),
		settings:     defaultSettings(),
		seatByPlayer: make(map[string]int),
		usedWords:    make(map[string]bool),
		pairs:        pairs,
		custom:       custom,
		register:     make(chan *Client),
		unreg:        make(chan *Client),
		events:       make(chan inboundEvent),
		quit:         make(chan struct{}),
		rng:          mathrand.New(mathrand.NewPCG(randomSeed(), randomSeed())),
		createdAt:    now,
		lastActive:   now,
		onEmpty:      onEmpty,
	}
}

func randomSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unreg:
			h.handleUnregister(cfg, c)

		case ev := <-h.events:
			switch ev.msg.Type {
			case "join":
				h.handleJoin(cfg, ev.client, ev.msg)
			case "settings":
				h.handleSettings(ev.client, ev.msg)
			case "ready":
				h.handleReady(ev.client)
			case "start":
				h.handleStart(cfg, ev.client)
			case "clue":
				h.handleClue(ev.client, ev.msg)
			case "vote":
				h.handleVote(cfg, ev.client, ev.msg)
			case "guess":
				h.handleGuess(cfg, ev.client, ev.msg)
			default:
				// ignore unknown types
			}

		case <-h.quit:
			return
		}
	}
}

// sendLocked queues a message for one client, dropping the client if its
// buffer is full.
func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

// sendPrivateLocked delivers a player's private view to every connection
// holding their cookie.
func (h *Hub) sendPrivateLocked(playerID string) {
	seatIdx, ok := h.seatByPlayer[playerID]
	if !ok {
		return
	}

	view, ok := privateView(h.session, seatIdx)
	if !ok {
		return
	}

	msg := PrivateMessage{
		Type: "private",
		View: view,
	}

	for client := range h.clients {
		if client.playerID == playerID {
			h.sendLocked(client, msg)
		}
	}
}

func (h *Hub) failLocked(c *Client, err *RuleError) {
	h.sendLocked(c, ErrorMessage{
		Type:    "error",
		Code:    err.Code,
		Message: err.Message,
	})
}

func (h *Hub) playerIndexLocked(playerID string) int {
	for i := range h.players {
		if h.players[i].playerID == playerID {
			return i
		}
	}
	return -1
}

func (h *Hub) publicPlayersLocked() []PublicPlayer {
	players := make([]PublicPlayer, 0, len(h.players))
	for _, p := range h.players {
		view := PublicPlayer{
			Name:      p.name,
			IsHost:    p.isHost,
			Ready:     p.ready,
			Connected: p.connected,
			Clues:     []string{},
		}

		if h.session != nil {
			if seatIdx, ok := h.seatByPlayer[p.playerID]; ok && seatIdx < len(h.session.seats) {
				view.Eliminated = h.session.seats[seatIdx].Eliminated
				view.Clues = append([]string(nil), h.session.seats[seatIdx].Clues...)
			}
		}

		players = append(players, view)
	}
	return players
}

func (h *Hub) publicViewLocked() *PublicView {
	return &PublicView{
		RoomID:   h.id,
		Players:  h.publicPlayersLocked(),
		Settings: h.settings,
		Session:  publicSession(h.session),
	}
}

func (h *Hub) broadcastGameLocked(eliminated *EliminatedPlayer, whiteGuess *GuessOutcome) {
	h.broadcastLocked(GameMessage{
		Type:       "game",
		State:      h.publicViewLocked(),
		Eliminated: eliminated,
		WhiteGuess: whiteGuess,
	})
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()
	h.clients[c] = true

	idx := h.playerIndexLocked(c.playerID)
	if idx >= 0 {
		h.players[idx].connected = true
		h.players[idx].departed = false
	}

	info := SessionInfoMessage{
		Type:   "session_info",
		RoomID: h.id,
	}
	if idx >= 0 {
		info.IsExisting = true
		info.IsHost = h.players[idx].isHost
		info.Name = h.players[idx].name
	}
	h.sendLocked(c, info)

	if idx >= 0 {
		// Reconnect: re-derive everything this player is entitled to see.
		h.broadcastLocked(PlayersMessage{Type: "players", Players: h.publicPlayersLocked()})
		h.sendLocked(c, SettingsMessage{Type: "settings", Settings: h.settings})
		if h.session != nil {
			h.sendLocked(c, GameMessage{Type: "game", State: h.publicViewLocked()})
			h.sendPrivateLocked(c.playerID)
		}
	}
}

func (h *Hub) handleUnregister(cfg *Config, c *Client) {
	h.mu.Lock()

	h.lastActive = time.Now()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	playerID := c.playerID
	stillConnected := false
	for client := range h.clients {
		if client.playerID == playerID {
			stillConnected = true
			break
		}
	}

	if !stillConnected {
		if idx := h.playerIndexLocked(playerID); idx >= 0 {
			h.players[idx].connected = false
			h.broadcastLocked(PlayersMessage{Type: "players", Players: h.publicPlayersLocked()})
		}
	}

	h.mu.Unlock()

	if playerID != "" && !stillConnected {
		go h.scheduleRemoval(cfg, playerID, cfg.playerTimeout)
	}
}

// scheduleRemoval waits out the grace period and then settles the fate of a
// player who never came back: lobby members are dropped from the roster,
// while mid-game the configured disconnect policy applies.
func (h *Hub) scheduleRemoval(cfg *Config, playerID string, d time.Duration) {
	time.Sleep(d)

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.playerID == playerID {
			return
		}
	}

	if h.session != nil && !h.session.terminal() {
		// Seated players are never dropped from the roster mid-session, so
		// seat indices stay resolvable; the entry is flagged instead and
		// swept once the session ends.
		if idx := h.playerIndexLocked(playerID); idx >= 0 {
			h.players[idx].departed = true
		}

		if DisconnectPolicy(cfg.disconnectPolicy) != DisconnectEliminate {
			return
		}

		seatIdx, ok := h.seatByPlayer[playerID]
		if !ok {
			return
		}

		eliminated := h.session.eliminateAbsent(seatIdx)
		if eliminated == nil {
			return
		}

		h.lastActive = time.Now()
		logf(cfg, "GAMES: Dropped %q from %s (disconnect policy)", eliminated.Name, h.id)

		h.broadcastGameLocked(&EliminatedPlayer{
			Name: eliminated.Name,
			Role: eliminated.Role,
		}, nil)

		h.sweepDepartedLocked()

		return
	}

	idx := h.playerIndexLocked(playerID)
	if idx < 0 {
		return
	}

	wasHost := h.players[idx].isHost
	h.players = append(h.players[:idx], h.players[idx+1:]...)
	h.lastActive = time.Now()

	if len(h.players) == 0 {
		if h.onEmpty != nil {
			go h.onEmpty(h.id)
		}
		return
	}

	if wasHost {
		h.players[0].isHost = true
	}

	h.broadcastLocked(PlayersMessage{Type: "players", Players: h.publicPlayersLocked()})
}

// sweepDepartedLocked removes roster entries whose grace period expired
// mid-session, once the session has reached results. Host duties pass to
// the next remaining player in join order.
func (h *Hub) sweepDepartedLocked() {
	if h.session == nil || !h.session.terminal() {
		return
	}

	kept := h.players[:0]
	hostLost := false
	for _, p := range h.players {
		if p.departed && !p.connected {
			hostLost = hostLost || p.isHost
			continue
		}
		kept = append(kept, p)
	}

	if len(kept) == len(h.players) {
		return
	}
	h.players = kept

	if len(h.players) == 0 {
		if h.onEmpty != nil {
			go h.onEmpty(h.id)
		}
		return
	}

	if hostLost {
		h.players[0].isHost = true
	}

	h.broadcastLocked(PlayersMessage{Type: "players", Players: h.publicPlayersLocked()})
}

func (h *Hub) handleJoin(cfg *Config, c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" || c.playerID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	idx := h.playerIndexLocked(c.playerID)

	for i := range h.players {
		if i != idx && h.players[i].name == name {
			h.failLocked(c, ruleErrorf(ErrNameTaken, "the name %q is already taken in this room", name))
			return
		}
	}

	if idx >= 0 {
		// Renames are a lobby-only affair; mid-game the seat keeps its name.
		if h.session == nil || h.session.terminal() {
			h.players[idx].name = name
		}
		h.players[idx].connected = true
		h.players[idx].departed = false
	} else {
		h.players = append(h.players, roomPlayer{
			playerID:  c.playerID,
			name:      name,
			isHost:    len(h.players) == 0,
			connected: true,
		})
		idx = len(h.players) - 1
		logf(cfg, "GAMES: Player %q joined %s", name, h.id)
	}

	h.sendLocked(c, JoinedMessage{
		Type:    "joined",
		RoomID:  h.id,
		IsHost:  h.players[idx].isHost,
		Players: h.publicPlayersLocked(),
	})
	h.sendLocked(c, SettingsMessage{Type: "settings", Settings: h.settings})

	h.broadcastLocked(PlayersMessage{Type: "players", Players: h.publicPlayersLocked()})
}

func (h *Hub) handleSettings(c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	idx := h.playerIndexLocked(c.playerID)
	if idx < 0 || !h.players[idx].isHost {
		h.failLocked(c, ruleErrorf(ErrNotHost, "only the host may change settings"))
		return
	}

	if msg.Settings == nil {
		return
	}

	if msg.Settings.IncludeMisterWhite != nil {
		h.settings.IncludeMisterWhite = *msg.Settings.IncludeMisterWhite
	}
	if msg.Settings.UseCustomWords != nil {
		h.settings.UseCustomWords = *msg.Settings.UseCustomWords
	}
	if msg.Settings.MaxRounds != nil && *msg.Settings.MaxRounds >= 1 {
		h.settings.MaxRounds = *msg.Settings.MaxRounds
	}

	h.broadcastLocked(SettingsMessage{Type: "settings", Settings: h.settings})
}

func (h *Hub) handleReady(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	idx := h.playerIndexLocked(c.playerID)
	if idx < 0 {
		return
	}

	h.players[idx].ready = true
	h.broadcastLocked(PlayersMessage{Type: "players", Players: h.publicPlayersLocked()})
}

func (h *Hub) handleStart(cfg *Config, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	idx := h.playerIndexLocked(c.playerID)
	if idx < 0 || !h.players[idx].isHost {
		h.failLocked(c, ruleErrorf(ErrNotHost, "only the host may start the game"))
		return
	}

	if len(h.players) < minPlayersToStart {
		h.failLocked(c, ruleErrorf(ErrInsufficientPlayers, "at least %d players are needed to start", minPlayersToStart))
		return
	}

	if h.session != nil && !h.session.terminal() {
		h.failLocked(c, ruleErrorf(ErrWrongPhase, "a game is already in progress"))
		return
	}

	pool := h.pairs
	if h.settings.UseCustomWords && len(h.custom) > 0 {
		pool = append(append([]WordPair{}, h.pairs...), h.custom...)
	}

	// A new session replaces the previous one entirely: ready flags,
	// eliminations, and clue histories all start from scratch.
	names := make([]string, len(h.players))
	h.seatByPlayer = make(map[string]int, len(h.players))
	for i := range h.players {
		names[i] = h.players[i].name
		h.players[i].ready = false
		h.seatByPlayer[h.players[i].playerID] = i
	}

	h.session = newSession(names, h.settings, pool, h.usedWords, h.rng)

	logf(cfg, "GAMES: Started session in %s with %d players", h.id, len(names))

	// Word distribution: public setup state first, then each player's
	// secret, then the first clue round opens.
	h.broadcastGameLocked(nil, nil)

	for _, p := range h.players {
		h.sendPrivateLocked(p.playerID)
	}

	h.session.begin()
	h.broadcastGameLocked(nil, nil)
}

func (h *Hub) handleClue(c *Client, msg ClientMessage) {
	clue := strings.TrimSpace(msg.Clue)
	if clue == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.session == nil {
		h.failLocked(c, ruleErrorf(ErrWrongPhase, "no game is in progress"))
		return
	}

	seatIdx, ok := h.seatByPlayer[c.playerID]
	if !ok {
		h.failLocked(c, ruleErrorf(ErrNotEligible, "you are not part of this game"))
		return
	}

	if err := h.session.submitClue(seatIdx, clue); err != nil {
		h.failLocked(c, err)
		return
	}

	h.broadcastGameLocked(nil, nil)
}

func (h *Hub) handleVote(cfg *Config, c *Client, msg ClientMessage) {
	if msg.Player == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.session == nil {
		h.failLocked(c, ruleErrorf(ErrWrongPhase, "no game is in progress"))
		return
	}

	eliminated, err := h.session.vote(*msg.Player)
	if err != nil {
		h.failLocked(c, err)
		return
	}

	logf(cfg, "GAMES: %q was voted out of %s", eliminated.Name, h.id)

	h.broadcastGameLocked(&EliminatedPlayer{
		Name: eliminated.Name,
		Role: eliminated.Role,
	}, nil)

	h.sweepDepartedLocked()
}

func (h *Hub) handleGuess(cfg *Config, c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.session == nil {
		h.failLocked(c, ruleErrorf(ErrWrongPhase, "no game is in progress"))
		return
	}

	seatIdx, ok := h.seatByPlayer[c.playerID]
	if !ok {
		h.failLocked(c, ruleErrorf(ErrNotEligible, "you are not part of this game"))
		return
	}

	correct, err := h.session.guess(seatIdx, msg.Guess)
	if err != nil {
		h.failLocked(c, err)
		return
	}

	logf(cfg, "GAMES: Mister White guess in %s was correct=%t", h.id, correct)

	h.broadcastGameLocked(nil, &GuessOutcome{
		Guess:   msg.Guess,
		Correct: correct,
	})

	h.sweepDepartedLocked()
}

// attach hands a fresh connection to the run loop, reporting failure if the
// room was torn down between lookup and delivery.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// deliver feeds an inbound event to the run loop unless the room has been
// torn down.
func (h *Hub) deliver(ev inboundEvent) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.quit:
		return false
	}
}

// release detaches a closing connection. Reaped rooms have no run loop left
// to receive it, so the send must not block forever.
func (h *Hub) release(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.quit:
	}
}

// closeAll disconnects all clients of this hub (used by the reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "undercover_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager owns the mapping from room id to Hub. It is created per
// registered game path and injected into the handlers; nothing else holds
// the room table.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration

	pairs  []WordPair
	custom []WordPair
}

func newGameManager(cfg *Config) (*GameManager, error) {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
		pairs:       builtinPairs,
	}

	if cfg.wordList != "" {
		custom, err := loadWordPairs(cfg.wordList)
		if err != nil {
			return nil, err
		}
		gm.custom = custom
		logf(cfg, "GAMES: Loaded %d custom word pairs from %s", len(custom), cfg.wordList)
	}

	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}

	return gm, nil
}

// createRoom allocates a fresh hub under a new collision-checked id.
func (gm *GameManager) createRoom(cfg *Config) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	var roomID string
	for {
		roomID = randomRoomID(6)
		if _, exists := gm.hubs[roomID]; !exists {
			break
		}
	}

	hub := newHub(roomID, gm.pairs, gm.custom, gm.removeRoom)
	gm.hubs[roomID] = hub
	go hub.run(cfg)

	return hub
}

// lookup resolves a room id, ignoring case so typed-in codes are forgiving.
func (gm *GameManager) lookup(roomID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	return gm.hubs[strings.ToUpper(roomID)]
}

func (gm *GameManager) removeRoom(roomID string) {
	gm.mu.Lock()
	hub, ok := gm.hubs[roomID]
	if ok {
		delete(gm.hubs, roomID)
	}
	gm.mu.Unlock()

	if ok {
		close(hub.quit)
		hub.closeAll()
	}
}

// randomRoomID generates a short, human-copyable room code.
func randomRoomID(n int) string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(buf[i])%len(letters)]
	}

	return string(out)
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		stale := make([]*Hub, 0)
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				stale = append(stale, hub)
			}
		}
		gm.mu.Unlock()

		for _, hub := range stale {
			close(hub.quit)
			go hub.closeAll()
		}
	}
}

// serveWSForManager resolves :roomid and attaches the connection to its hub.
// Unknown rooms get a structured RoomNotFound before the socket closes, so
// the client can tell a bad code from a network failure.
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.lookup(roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		if hub == nil {
			_ = conn.WriteJSON(ErrorMessage{
				Type:    "error",
				Code:    ErrRoomNotFound,
				Message: "that room does not exist",
			})
			_ = conn.Close()
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		if !hub.attach(client) {
			_ = conn.WriteJSON(ErrorMessage{
				Type:    "error",
				Code:    ErrRoomNotFound,
				Message: "that room does not exist",
			})
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.release(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "settings", "ready", "start", "clue", "vote", "guess":
			if !h.deliver(inboundEvent{client: c, msg: msg}) {
				return
			}
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

// qrHandler generates a PNG QR code for the current room URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed undercover/index.html
var indexHTML []byte

//go:embed undercover/app.css
var undercoverCSS []byte

//go:embed undercover/app.js
var undercoverJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(undercoverCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(undercoverJS)
	}
}

// redirectNewRoom handles GET /path by creating a fresh room and redirecting
// to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hub := gm.createRoom(cfg)
		logf(cfg, "GAMES: Created room %s/%s", path, hub.id)
		http.Redirect(w, r, cfg.prefix+path+"/"+hub.id, http.StatusTemporaryRedirect)
	}
}

// registerUndercoverGame sets up routes so that:
//   - $path                  → creates a room and redirects into it
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
func registerUndercoverGame(cfg *Config, path string, mux *httprouter.Router) error {
	gm, err := newGameManager(cfg)
	if err != nil {
		return err
	}

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:roomid", getIndexHandler(cfg))

	mux.GET(cfg.prefix+"/assets/undercover/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/undercover/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)

	return nil
}
