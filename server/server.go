package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wfunc/xoserver/broadcast"
	"github.com/wfunc/xoserver/config"
	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/matchmaking"
	"github.com/wfunc/xoserver/monitor"
	"github.com/wfunc/xoserver/network"
	"github.com/wfunc/xoserver/persistence"
	"github.com/wfunc/xoserver/room"
	"github.com/wfunc/xoserver/rpc"
	"github.com/wfunc/xoserver/services"
	"github.com/wfunc/xoserver/session"
	"github.com/wfunc/xoserver/timer"
)

const shutdownTimeout = 5 * time.Second

type GameServer struct {
	cfg            *config.Config
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	roomManager    *room.Manager
	matchmaker     *matchmaking.Matchmaker
	broadcaster    *broadcast.Broadcaster
	timers         *timer.TimerManager
	playerService  *services.PlayerService
	chatService    *services.ChatService
	recorder       *services.Recorder
	monitor        *monitor.Monitor
	dispatcher     *Dispatcher
	rpcServer      *rpc.Server
	db             persistence.Database
}

type Option func(*GameServer)

func WithAuthenticator(auth Authenticator) Option {
	return func(s *GameServer) {
		s.dispatcher.auth = auth
	}
}

// NewGameServer wires every component. db may be nil, in which case games,
// invitations and chat are not archived.
func NewGameServer(cfg *config.Config, db persistence.Database, opts ...Option) *GameServer {
	s := &GameServer{
		cfg:            cfg,
		db:             db,
		sessionManager: session.NewManager(),
		timers:         timer.NewTimerManager(cfg.Timer.Resolution),
		monitor:        monitor.NewMonitor(cfg.Server.MetricsNamespace),
		chatService:    services.NewChatService(db, cfg.Chat.MaxLength),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewBroadcaster(s.sessionManager)
	s.broadcaster.OnDrop(s.monitor.IncDropped)

	archiver := &countingArchiver{monitor: s.monitor}
	if db != nil {
		s.playerService = services.NewPlayerService(db)
		s.recorder = services.NewRecorder(db, 0)
		archiver.next = s.recorder
	}

	policy := game.ExpireNoWinner
	if cfg.Game.ExpiryPolicy == config.ExpiryForfeit {
		policy = game.ExpireForfeit
	}
	s.roomManager = room.NewRoomManager(room.Options{
		TurnWindow:    cfg.Game.TurnWindow,
		ExpiryPolicy:  policy,
		InvitationTTL: cfg.Room.InvitationTTL,
		EmptyGrace:    cfg.Room.EmptyGrace,
		MaxSpectators: cfg.Room.MaxSpectators,
		AI: game.AIOptions{
			Depth:  cfg.Game.AIDepth,
			Budget: cfg.Game.AITimeBudget,
		},
	}, s.broadcaster, s.timers, archiver)
	s.matchmaker = matchmaking.NewMatchmaker(s.roomManager, s.broadcaster)

	s.dispatcher = &Dispatcher{
		sessions:        s.sessionManager,
		rooms:           s.roomManager,
		matchmaker:      s.matchmaker,
		chat:            s.chatService,
		broadcaster:     s.broadcaster,
		clock:           s.timers,
		monitor:         s.monitor,
		auth:            TrustAuthenticator{},
		disconnectGrace: cfg.Room.DisconnectGrace,
		now:             time.Now,
	}
	s.roomManager.SetTimeoutHandler(s.dispatcher.Timeout)

	// 初始化RPC服务器
	s.rpcServer = rpc.NewServer(commands{s: s})

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves the WebSocket endpoint, metrics and liveness.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.monitor.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Run serves HTTP and gRPC and runs the cleanup loop until ctx is done or
// one of them fails.
func (s *GameServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Server.RPCAddress)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              s.cfg.Server.HTTPAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Infow("Game server listening", "address", s.cfg.Server.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.rpcServer.Serve(lis)
	})
	g.Go(func() error {
		s.cleanupLoop(ctx)
		return nil
	})
	if s.recorder != nil {
		g.Go(func() error {
			return s.recorder.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown(httpServer)
	})
	return g.Wait()
}

func (s *GameServer) shutdown(httpServer *http.Server) error {
	logger.Log.Info("Shutting down game server.")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(ctx)
	s.rpcServer.Stop()
	// hijacked websocket connections are not closed by Shutdown
	for _, userID := range s.sessionManager.OnlineUsers() {
		if sess, ok := s.sessionManager.Get(userID); ok {
			sess.Close()
		}
	}
	s.timers.Stop()
	return err
}

func (s *GameServer) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Room.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cleanup(now)
		}
	}
}

func (s *GameServer) cleanup(now time.Time) {
	closed, expired := s.roomManager.Cleanup(now)
	if closed > 0 || expired > 0 {
		logger.Log.Infow("cleanup", "closed_rooms", closed, "expired_invitations", expired)
	}
	s.refreshGauges()
}

func (s *GameServer) refreshGauges() {
	rooms, games := s.roomManager.Stats()
	s.monitor.SetRoomStats(rooms, games)
	s.monitor.SetQueueLength(s.matchmaker.Queue().Len())
	s.monitor.SetOnlinePlayers(s.sessionManager.OnlineCount())
}

type healthPayload struct {
	Status      string `json:"status"`
	Online      int    `json:"online"`
	Rooms       int    `json:"rooms"`
	ActiveGames int    `json:"activeGames"`
	Queue       int    `json:"queue"`
}

func (s *GameServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rooms, games := s.roomManager.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthPayload{
		Status:      "ok",
		Online:      s.sessionManager.OnlineCount(),
		Rooms:       rooms,
		ActiveGames: games,
		Queue:       s.matchmaker.Queue().Len(),
	})
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infow("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn, s.cfg.Server.SendBuffer, s.cfg.Server.Heartbeat)
	sess := session.NewSession(wsConn)
	logger.Log.Infow("New connection", "remote", wsConn.RemoteAddr().String(), "session", sess.ID)

	defer func() {
		s.dispatcher.Disconnect(sess)
		wsConn.Close()
		logger.Log.Infow("Connection closed", "remote", wsConn.RemoteAddr().String(), "session", sess.ID, "user", sess.UserID())
	}()

	for {
		raw, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if hb := s.cfg.Server.Heartbeat; hb > 0 {
			wsConn.SetHeartbeat(hb)
		}
		s.dispatcher.Handle(sess, raw)
	}
}

// countingArchiver feeds game outcomes to metrics before handing them on.
type countingArchiver struct {
	monitor *monitor.Monitor
	next    room.Archiver
}

func (a *countingArchiver) GameFinished(g *game.Game) {
	a.monitor.IncGamesFinished(string(g.Status))
	if a.next != nil {
		a.next.GameFinished(g)
	}
}

func (a *countingArchiver) InvitationChanged(inv room.Invitation) {
	if a.next != nil {
		a.next.InvitationChanged(inv)
	}
}
