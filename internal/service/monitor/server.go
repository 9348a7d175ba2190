package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"proxyrotor/internal/breaker"
	"proxyrotor/internal/rotation"
	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 监控服务只在本地回环上监听，放开跨域检查。
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server 是只读监控面: websocket 事件流 + JSON 状态接口。
// 它不改变任何核心状态，不是 UI。
type Server struct {
	cfg        types.MonitorConf
	hub        *Hub
	registry   *breaker.Registry
	dispatcher *rotation.Dispatcher
	httpServer *http.Server
}

// NewServer 构造监控服务并启动事件转发泵。
func NewServer(cfg types.MonitorConf, registry *breaker.Registry, dispatcher *rotation.Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		hub:        NewHub(),
		registry:   registry,
		dispatcher: dispatcher,
	}
	return s
}

// Start 启动 hub、事件泵和 HTTP 服务。web_port 未配置时什么都不做。
func (s *Server) Start() {
	l := logger.WithComponent("Monitor/Server")
	if !s.cfg.Enabled || s.cfg.WebPort <= 0 {
		l.Info().Msg("Monitor service is disabled.")
		return
	}

	go s.hub.Run()
	go s.pumpBreakerEvents()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/metrics", s.handleAggregateMetrics)
	mux.HandleFunc("/api/breakers", s.handleBreakers)
	mux.HandleFunc("/api/rotation/history", s.handleRotationHistory)
	mux.HandleFunc("/api/rotation/sticky", s.handleStickyMappings)
	mux.HandleFunc("/api/rotation/rules", s.handleRules)
	mux.HandleFunc("/api/rotation/recent", s.handleRecentDomains)

	addr := fmt.Sprintf("%s:%d", s.cfg.ListenIP, s.cfg.WebPort)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		l.Info().Str("addr", addr).Msg("Monitor service listening.")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Monitor service failed.")
		}
	}()
}

// Stop 优雅关闭 HTTP 服务与 hub。
func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctx)
	}
	s.hub.Stop()
}

// pumpBreakerEvents 把注册表事件通道接到 hub 广播上。
// 通道随 Registry.Destroy 停止产出后，泵随进程退出。
func (s *Server) pumpBreakerEvents() {
	for e := range s.registry.Events() {
		s.hub.BroadcastBreakerEvent(e)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed.")
		return
	}
	s.hub.register <- conn

	// 读泵只负责探测断连。
	go func() {
		defer func() { s.hub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleAggregateMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.registry.AggregateMetrics())
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.registry.Metrics())
}

func (s *Server) handleRotationHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.dispatcher.RotationHistory())
}

func (s *Server) handleStickyMappings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.dispatcher.StickyMappings())
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.dispatcher.Rules())
}

func (s *Server) handleRecentDomains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.dispatcher.RecentDomains())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to encode monitor response.")
	}
}
