package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/annel0/mmo-overlay/internal/logging"
)

// frame кадр потока моста: пачка команд туда, результат обратно
type frame struct {
	Batch  []Command `json:"batch,omitempty"`
	Result *Result   `json:"result,omitempty"`
}

// StreamBridge мост к внедренному в игру помощнику по потоку JSON строк.
type StreamBridge struct {
	conn    io.ReadWriteCloser
	enc     *json.Encoder
	writeMu sync.Mutex
	results chan Result
	done    chan struct{}
	once    sync.Once
	logger  *logging.Logger
}

// DialStream подключается к помощнику по TCP
func DialStream(ctx context.Context, addr string, logger *logging.Logger) (*StreamBridge, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", addr, err)
	}
	return NewStreamBridge(conn, logger), nil
}

// NewStreamBridge запускает чтение результатов из conn
func NewStreamBridge(conn io.ReadWriteCloser, logger *logging.Logger) *StreamBridge {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	b := &StreamBridge{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		results: make(chan Result, 256),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go b.readLoop()
	return b
}

// Issue отправляет пачку команд одним кадром
func (b *StreamBridge) Issue(ctx context.Context, batch ...Command) error {
	if len(batch) == 0 {
		return nil
	}
	select {
	case <-b.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.enc.Encode(frame{Batch: batch}); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

// Results канал завершений команд; закрывается при разрыве соединения
func (b *StreamBridge) Results() <-chan Result {
	return b.results
}

// Close закрывает соединение
func (b *StreamBridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.conn.Close()
	})
	return err
}

func (b *StreamBridge) readLoop() {
	defer close(b.results)

	scanner := bufio.NewScanner(b.conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			b.logger.Warn("⚠️ bridge frame decode: %v", err)
			b.logger.LogFrame("IN", "invalid", scanner.Bytes())
			continue
		}
		if f.Result == nil {
			continue
		}
		select {
		case b.results <- *f.Result:
		case <-b.done:
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		b.logger.Error("❌ bridge read: %v", err)
	}
}
