package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/config"
	"github.com/jnkforks/CallRecorder/internal/metrics"
	"github.com/jnkforks/CallRecorder/internal/protocol"
)

// CallStateSink receives call-state transitions in arrival order.
type CallStateSink interface {
	OnCallStateChanged(state callstate.State, number string)
}

// UDPServer receives call-state datagrams from the telephony gateway
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	sink    CallStateSink
	metrics *metrics.Metrics

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	recvWG    sync.WaitGroup
	processWG sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsDropped   uint64
	heartbeats       uint64
	lastHeartbeat    time.Time
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, sink CallStateSink, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger.With("component", "udp_server"),
		sink:       sink,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, queueSize),
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	// One processor: call-state transitions must reach the sink in order.
	s.processWG.Add(1)
	go s.packetProcessor()

	s.recvWG.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server. Packets already queued are delivered.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only sender on packetChan.
	s.recvWG.Wait()
	close(s.packetChan)
	s.processWG.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.recvWG.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Deadline lets the loop observe cancellation between packets.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor drains the packet channel until Stop closes it
func (s *UDPServer) packetProcessor() {
	defer s.processWG.Done()

	for packet := range s.packetChan {
		s.handlePacket(packet)
		s.metrics.SetQueueSize(len(s.packetChan))
	}
}

func packetTypeName(data []byte) string {
	if len(data) == 0 {
		return "unknown"
	}
	return (&protocol.Header{PacketType: data[0]}).TypeName()
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket) {
	typeName := packetTypeName(packet.data)
	s.metrics.RecordPacketReceived(typeName)

	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError(typeName)

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeCallState:
		s.processCallState(parsed, packet)
	case protocol.PacketTypeHeartbeat:
		s.mu.Lock()
		s.heartbeats++
		s.lastHeartbeat = packet.timestamp
		s.mu.Unlock()
		s.logger.Debug("Heartbeat received",
			slog.Uint64("line_id", uint64(parsed.Header.LineID)),
			slog.String("remote_addr", packet.remoteAddr.String()),
		)
	}
}

func (s *UDPServer) processCallState(parsed *protocol.ParsedPacket, packet *incomingPacket) {
	state := parsed.Header.CallState()
	number := parsed.CallState.GetNumber()

	s.logger.Debug("Call state packet",
		slog.Uint64("line_id", uint64(parsed.Header.LineID)),
		slog.String("state", state.String()),
		slog.String("number", number),
		slog.Duration("queued", time.Since(packet.timestamp)),
	)

	s.sink.OnCallStateChanged(state, number)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.packetsDropped,
		Heartbeats:       s.heartbeats,
		LastHeartbeat:    s.lastHeartbeat,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}

// ServerStatistics represents listener counters
type ServerStatistics struct {
	PacketsReceived  uint64    `json:"packets_received"`
	PacketsProcessed uint64    `json:"packets_processed"`
	ParseErrors      uint64    `json:"parse_errors"`
	PacketsDropped   uint64    `json:"packets_dropped"`
	Heartbeats       uint64    `json:"heartbeats"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	QueueSize        uint64    `json:"queue_size"`
	QueueCapacity    uint64    `json:"queue_capacity"`
}
