package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mmo-overlay/internal/logging"
)

// KCPStats статистика соединения
type KCPStats struct {
	RemoteAddr   string    `json:"remote_addr"`
	PacketsSent  uint64    `json:"packets_sent"`
	BytesSent    uint64    `json:"bytes_sent"`
	Errors       uint64    `json:"errors"`
	LastActivity time.Time `json:"last_activity"`
}

// KCPBroadcaster отправляет пакеты на сервер сессии по KCP.
type KCPBroadcaster struct {
	conn       *kcp.UDPSession
	compressor Compressor
	logger     *logging.Logger

	seq uint32

	mu    sync.Mutex
	stats KCPStats
}

// tuneSession игровые настройки KCP
func tuneSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

// DialKCP устанавливает KCP соединение с сервером сессии.
func DialKCP(ctx context.Context, addr string, compressor Compressor, logger *logging.Logger) (*KCPBroadcaster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	tuneSession(conn)

	kb := NewKCPBroadcaster(conn, compressor, logger)
	logger.Info("✅ KCP канал подключен: addr=%s compression=%s", addr, kb.compressor.Name())
	return kb, nil
}

// NewKCPBroadcaster оборачивает готовую сессию
func NewKCPBroadcaster(conn *kcp.UDPSession, compressor Compressor, logger *logging.Logger) *KCPBroadcaster {
	if compressor == nil {
		compressor = passthroughCompressor{}
	}
	return &KCPBroadcaster{
		conn:       conn,
		compressor: compressor,
		logger:     logger,
		stats:      KCPStats{RemoteAddr: conn.RemoteAddr().String()},
	}
}

// Broadcast кодирует пакет в кадр и пишет его в сессию
func (kb *KCPBroadcaster) Broadcast(ctx context.Context, p Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodePayload(p)
	if err != nil {
		return err
	}
	if payload, err = kb.compressor.Compress(payload); err != nil {
		return fmt.Errorf("compress %s: %w", p.Type, err)
	}

	f := Frame{
		Seq:         atomic.AddUint32(&kb.seq, 1),
		Type:        p.Type,
		ID:          p.ID,
		Reliability: p.Reliability,
		Payload:     payload,
	}
	if name := kb.compressor.Name(); name != "none" {
		f.Compression = name
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = kb.conn.SetWriteDeadline(dl)
	}

	// запись кадра целиком под мьютексом: в потоковом режиме кадры не должны перемешиваться
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if err := WriteFrame(kb.conn, f); err != nil {
		kb.stats.Errors++
		return fmt.Errorf("failed to write frame: %w", err)
	}
	kb.stats.PacketsSent++
	kb.stats.BytesSent += uint64(len(f.Payload))
	kb.stats.LastActivity = time.Now()
	countPacket(p)
	kb.logger.Trace("→ %s seq=%d", p, f.Seq)
	return nil
}

// Stats снимок статистики
func (kb *KCPBroadcaster) Stats() KCPStats {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.stats
}

// Close закрывает сессию
func (kb *KCPBroadcaster) Close() error {
	err := kb.conn.Close()
	if c, ok := kb.compressor.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	kb.logger.Info("🛑 KCP канал закрыт")
	return err
}

// DecodeFrame восстанавливает пакет из принятого кадра
func DecodeFrame(f Frame, compressor Compressor) (Packet, error) {
	data := f.Payload
	if f.Compression != "" {
		if compressor == nil || compressor.Name() != f.Compression {
			c, err := NewCompressor(f.Compression)
			if err != nil {
				return Packet{}, err
			}
			compressor = c
		}
		var err error
		if data, err = compressor.Decompress(data); err != nil {
			return Packet{}, fmt.Errorf("decompression failed: %w", err)
		}
	}
	payload, err := DecodePayload(f.Type, data)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: f.Type, ID: f.ID, Payload: payload, Reliability: f.Reliability}, nil
}
