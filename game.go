// NanoQuiz live game
//
// One host drives a shared question sequence; players answer on their own
// devices within a time window; scores reward speed; a leaderboard follows
// every reveal.
//
// Features:
// - Single WebSocket endpoint: /quiz/ws; one connection per participant
// - Participants identified by cookie (playerID)
// - Host creates a game from a quiz JSON document and receives a join code
// - Players join by code; names are sanitized before entering the roster
// - Rounds end at the deadline or as soon as everyone has answered
// - Question payloads never leak correct option ids
// - Per-source sliding-window rate limiting on all inbound events
// - In-browser QR button to share the join link, backed by go-qrcode

package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type       string          `json:"type"`                 // "create_game", "join_game", "start_game", "advance", "answer"
	GameID     string          `json:"gameId,omitempty"`     // join_game / start_game / advance / answer
	Name       string          `json:"name,omitempty"`       // join_game
	Quiz       json.RawMessage `json:"quiz,omitempty"`       // create_game
	QuestionID string          `json:"questionId,omitempty"` // answer
	OptionID   string          `json:"optionId,omitempty"`   // answer
}

// ServerMessage is the outbound envelope for every event.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type CreateAck struct {
	OK     bool   `json:"ok"`
	GameID string `json:"gameId,omitempty"`
	Error  string `json:"error,omitempty"`
}

type JoinAck struct {
	OK     bool   `json:"ok"`
	GameID string `json:"gameId,omitempty"`
	Title  string `json:"title,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan ServerMessage
	playerID string
	source   string // rate-limit key, derived from the remote address
	gameID   string // game this connection is part of; touched only by its readPump
}

// trySend queues a message without blocking; slow clients lose events
// rather than stalling a broadcast.
func (c *Client) trySend(msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

// room is the broadcast group for one session: the host plus every joined
// player. It satisfies Broadcaster for the session state machine.
type room struct {
	mu      sync.Mutex
	host    *Client
	players map[string]*Client
}

func newRoom(host *Client) *room {
	return &room{
		host:    host,
		players: make(map[string]*Client),
	}
}

func (r *room) Broadcast(event string, data any) {
	msg := ServerMessage{Type: event, Data: data}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.host.trySend(msg)
	for _, c := range r.players {
		c.trySend(msg)
	}
}

func (r *room) SendToHost(event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.host.trySend(ServerMessage{Type: event, Data: data})
}

func (r *room) SendTo(playerID string, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.players[playerID]; ok {
		c.trySend(ServerMessage{Type: event, Data: data})
	}
}

func (r *room) addPlayer(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.players[c.playerID] = c
}

func (r *room) removePlayer(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.players, playerID)
}

// quizServer routes inbound events to the registry and sessions, and keeps
// the room bookkeeping that carries broadcasts back out.
type quizServer struct {
	cfg      *Config
	registry *Registry
	limiter  *RateLimiter

	mu    sync.Mutex
	rooms map[string]*room
}

func newQuizServer(cfg *Config, registry *Registry, limiter *RateLimiter) *quizServer {
	return &quizServer{
		cfg:      cfg,
		registry: registry,
		limiter:  limiter,
		rooms:    make(map[string]*room),
	}
}

func (srv *quizServer) room(gameID string) (*room, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	r, ok := srv.rooms[gameID]
	return r, ok
}

func (srv *quizServer) dropRoom(gameID string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	delete(srv.rooms, gameID)
}

// inLiveGame reports whether this connection already belongs to a session
// that is still running. One connection plays one game at a time; otherwise
// a stale room could keep broadcasting to a closed client.
func (srv *quizServer) inLiveGame(c *Client) bool {
	if c.gameID == "" {
		return false
	}
	if _, ok := srv.registry.Get(c.gameID); ok {
		return true
	}
	c.gameID = ""
	return false
}

func (srv *quizServer) handleCreate(c *Client, msg ClientMessage) {
	if srv.inLiveGame(c) {
		c.trySend(ServerMessage{Type: "create_ack", Data: CreateAck{Error: "Already in a game."}})
		return
	}

	quiz, err := ParseQuizDefinition(msg.Quiz)
	if err != nil {
		log.Debug().Err(err).Str("player", c.playerID).Msg("quiz rejected")
		c.trySend(ServerMessage{Type: "create_ack", Data: CreateAck{Error: ErrInvalidQuiz.Error()}})
		return
	}

	r := newRoom(c)
	session, err := srv.registry.Create(c.playerID, quiz, r, srv.dropRoom)
	if err != nil {
		c.trySend(ServerMessage{Type: "create_ack", Data: CreateAck{Error: err.Error()}})
		return
	}

	srv.mu.Lock()
	srv.rooms[session.ID()] = r
	srv.mu.Unlock()

	c.gameID = session.ID()
	c.trySend(ServerMessage{Type: "create_ack", Data: CreateAck{OK: true, GameID: session.ID()}})

	// Host screen shows the join code from the first roster update.
	session.BroadcastLobby()
}

func (srv *quizServer) handleJoin(c *Client, msg ClientMessage) {
	if srv.inLiveGame(c) {
		c.trySend(ServerMessage{Type: "join_ack", Data: JoinAck{Error: "Already in a game."}})
		return
	}

	session, ok := srv.registry.Get(msg.GameID)
	if !ok {
		c.trySend(ServerMessage{Type: "join_ack", Data: JoinAck{Error: ErrGameNotJoinable.Error()}})
		return
	}

	r, ok := srv.room(session.ID())
	if !ok {
		c.trySend(ServerMessage{Type: "join_ack", Data: JoinAck{Error: ErrGameNotJoinable.Error()}})
		return
	}

	// Join inside the room so the new player sees their own roster update.
	r.addPlayer(c)
	title, err := session.Join(c.playerID, msg.Name)
	if err != nil {
		r.removePlayer(c.playerID)
		c.trySend(ServerMessage{Type: "join_ack", Data: JoinAck{Error: err.Error()}})
		return
	}

	c.gameID = session.ID()
	c.trySend(ServerMessage{Type: "join_ack", Data: JoinAck{OK: true, GameID: session.ID(), Title: title}})
}

func (srv *quizServer) handleStart(c *Client, msg ClientMessage) {
	if session, ok := srv.registry.Get(msg.GameID); ok {
		session.Start(c.playerID)
	}
}

func (srv *quizServer) handleAdvance(c *Client, msg ClientMessage) {
	if session, ok := srv.registry.Get(msg.GameID); ok {
		session.Advance(c.playerID)
	}
}

func (srv *quizServer) handleAnswer(c *Client, msg ClientMessage) {
	if session, ok := srv.registry.Get(msg.GameID); ok {
		session.SubmitAnswer(c.playerID, msg.QuestionID, msg.OptionID)
	}
}

// handleDisconnect feeds a dropped connection into the session it was part
// of. A vanished host cancels the whole game; a vanished player may end the
// current round early.
func (srv *quizServer) handleDisconnect(c *Client) {
	if c.gameID == "" {
		return
	}

	session, ok := srv.registry.Get(c.gameID)
	if !ok {
		return
	}

	if r, ok := srv.room(c.gameID); ok && r.host == c {
		session.Cancel("Host disconnected.")
		return
	}

	if r, ok := srv.room(c.gameID); ok {
		r.removePlayer(c.playerID)
	}
	session.RemovePlayer(c.playerID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "nanoquiz_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// rateLimitSource keys the limiter by remote host, so reconnecting on a new
// port doesn't reset anyone's budget.
func rateLimitSource(r *http.Request) string {
	ip := realIP(r)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

func serveWS(srv *quizServer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan ServerMessage, 8),
			playerID: playerID,
			source:   rateLimitSource(r),
		}

		go client.writePump()
		client.readPump(srv)
	}
}

func (c *Client) readPump(srv *quizServer) {
	defer func() {
		srv.handleDisconnect(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		// Admission check happens before any handler runs; rejected events
		// have no side effects beyond the error reply.
		if !srv.limiter.Allow(c.source) {
			c.trySend(ServerMessage{Type: "error", Data: ErrorMessage{Message: ErrRateLimited.Error()}})
			continue
		}

		switch msg.Type {
		case "create_game":
			srv.handleCreate(c, msg)
		case "join_game":
			srv.handleJoin(c, msg)
		case "start_game":
			srv.handleStart(c, msg)
		case "advance":
			srv.handleAdvance(c, msg)
		case "answer":
			srv.handleAnswer(c, msg)
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

// requestScheme trusts X-Forwarded-Proto over the connection itself, since
// TLS usually terminates at a reverse proxy.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// qrHandler renders a game's join link as a PNG QR code, for players joining
// from a phone camera. The join URL is this request's own URL minus the /qr
// suffix.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("gameid") == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	joinURL := requestScheme(r) + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

	png, err := qrcode.Encode(joinURL, qrcode.Medium, 320)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static client ----

//go:embed quiz/index.html
var indexHTML []byte

//go:embed quiz/app.css
var quizCSS []byte

//go:embed quiz/app.js
var quizJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(quizCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(quizJS)
	}
}

// registerQuizGame sets up routes so that:
//   - $path                    → quiz client (host or player picks a role)
//   - $path/ws                 → WebSocket carrying all game events
//   - $path/game/:gameid       → join link for a specific game
//   - $path/game/:gameid/qr    → PNG QR code for that join link
func registerQuizGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router) {
	registry := newRegistry(cfg.maxGames, cfg.maxPlayers, cfg.defaultTimeLimit, cfg.clock)
	limiter := newRateLimiter(cfg.rateWindow, cfg.rateLimit, cfg.clock)
	srv := newQuizServer(cfg, registry, limiter)

	go limiter.reapLoop(ctx.Done())
	go func() {
		<-ctx.Done()
		registry.CancelAll("Server shutting down.")
	}()

	// Client views
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/game/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/quiz/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/quiz/app.js", getJsHandler(cfg))

	// Game events
	mux.GET(cfg.prefix+path+"/ws", serveWS(srv))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/game/:gameid/qr", qrHandler)
}
