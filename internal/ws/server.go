// Package ws is the boundary between the bridge and its host application:
// commands arrive as HTTP POSTs, events leave over a WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vrc-chatbox/bridge/internal/config"
	"github.com/vrc-chatbox/bridge/internal/realtime"
	"github.com/vrc-chatbox/bridge/internal/system"
	"github.com/vrc-chatbox/bridge/internal/vrc"
)

type Server struct {
	// baseCtx bounds background tasks started by commands (the OSC
	// listener), which must outlive the request that started them.
	baseCtx     context.Context
	cfg         *config.Config
	broadcaster *Broadcaster
	listener    *vrc.Listener
	manager     *realtime.Manager
	authToken   string
}

func NewServer(baseCtx context.Context, cfg *config.Config, broadcaster *Broadcaster, listener *vrc.Listener, manager *realtime.Manager) *Server {
	return &Server{
		baseCtx:     baseCtx,
		cfg:         cfg,
		broadcaster: broadcaster,
		listener:    listener,
		manager:     manager,
		authToken:   cfg.Server.AuthToken,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/osc/typing", s.handleOSCTyping)
	mux.HandleFunc("/api/osc/message", s.handleOSCMessage)
	mux.HandleFunc("/api/osc/listener", s.handleOSCListener)
	mux.HandleFunc("/api/system/audio-settings", s.handleAudioSettings)
	mux.HandleFunc("/api/realtime/connect", s.handleRealtimeConnect)
	mux.HandleFunc("/api/realtime/send", s.handleRealtimeSend)
	mux.HandleFunc("/api/realtime/close", s.handleRealtimeClose)
	mux.HandleFunc("/api/status", s.handleStatus)
}

// handleWS attaches a host client to the event stream. Inbound frames are
// drained and ignored; commands go over HTTP.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("host client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("host client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleOSCTyping(w http.ResponseWriter, r *http.Request) {
	var req oscTypingRequest
	if !s.command(w, r, &req) {
		return
	}
	addr, port := s.oscTarget(req.Address, req.Port)
	if err := vrc.SendTyping(addr, port); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOSCMessage(w http.ResponseWriter, r *http.Request) {
	var req oscMessageRequest
	if !s.command(w, r, &req) {
		return
	}
	addr, port := s.oscTarget(req.Address, req.Port)
	if err := vrc.SendMessage(req.Text, addr, port); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOSCListener starts the background OSC receiver. Idempotent: later
// calls find it already started and succeed without doing anything.
func (s *Server) handleOSCListener(w http.ResponseWriter, r *http.Request) {
	if !s.command(w, r, nil) {
		return
	}
	s.listener.Start(s.baseCtx)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudioSettings(w http.ResponseWriter, r *http.Request) {
	if !s.command(w, r, nil) {
		return
	}
	if err := system.OpenAudioSettings(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRealtimeConnect(w http.ResponseWriter, r *http.Request) {
	var req realtimeConnectRequest
	if !s.command(w, r, &req) {
		return
	}
	if err := s.manager.Connect(r.Context(), req.APIKey, req.Model); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRealtimeSend(w http.ResponseWriter, r *http.Request) {
	var req realtimeSendRequest
	if !s.command(w, r, &req) {
		return
	}
	if err := s.manager.Send(req.Text); err != nil {
		writeRealtimeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRealtimeClose(w http.ResponseWriter, r *http.Request) {
	if !s.command(w, r, nil) {
		return
	}
	if err := s.manager.Close(); err != nil {
		writeRealtimeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		ListenerStarted:   s.listener.Started(),
		RealtimeConnected: s.manager.Connected(),
		GameRunning:       vrc.GameRunning(s.cfg.VRChat.ProcessName),
	})
}

// command does the shared POST-command plumbing: authorization, method
// check and, when req is non-nil, JSON body decoding. It reports whether
// the handler should proceed.
func (s *Server) command(w http.ResponseWriter, r *http.Request, req any) bool {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if req != nil {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
			return false
		}
	}
	return true
}

// oscTarget fills in the configured defaults for an omitted OSC endpoint.
func (s *Server) oscTarget(address string, port int) (string, int) {
	if address == "" {
		address = s.cfg.OSC.SendAddress
	}
	if port == 0 {
		port = s.cfg.OSC.SendPort
	}
	return address, port
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// writeRealtimeError maps a missing connection to 409 so the host can tell
// "connect first" apart from a transport problem.
func writeRealtimeError(w http.ResponseWriter, err error) {
	if errors.Is(err, realtime.ErrNotConnected) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

// checkOrigin admits browser clients only from this machine; non-browser
// hosts send no Origin header and are always admitted.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("bridge listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
