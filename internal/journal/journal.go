// Package journal хранит все исходящие пакеты клиента в BadgerDB для
// разбора сессий офлайн.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
)

// ErrClosed журнал уже закрыт
var ErrClosed = errors.New("journal is closed")

var keyPrefix = []byte("packet:")

// Record одна запись журнала
type Record struct {
	Seq         uint64          `json:"seq"`
	Time        time.Time       `json:"ts"`
	Type        string          `json:"type"`
	ID          model.NetworkID `json:"id"`
	Reliability string          `json:"reliability"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Options параметры открытия журнала
type Options struct {
	// Path каталог базы; игнорируется в памяти
	Path string
	// InMemory база без диска, для тестов
	InMemory bool
	// Compression сжатие записей: "", "none", "gzip", "zstd"
	Compression string
}

// Journal журнал пакетов
type Journal struct {
	db     *badger.DB
	comp   transport.Compressor
	logger *logging.Logger

	mu      sync.RWMutex
	isReady bool
	seq     uint64
}

// Open открывает журнал и продолжает нумерацию с последней записи
func Open(opts Options, logger *logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	comp, err := transport.NewCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	j := &Journal{db: db, comp: comp, logger: logger, isReady: true}
	if j.seq, err = j.lastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("✅ Журнал открыт (%s, последняя запись %d)", comp.Name(), j.seq)
	return j, nil
}

// Close закрывает журнал
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.isReady {
		return nil
	}
	j.isReady = false
	if c, ok := j.comp.(io.Closer); ok {
		c.Close()
	}
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

func (j *Journal) lastSeq() (uint64, error) {
	var seq uint64
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// обратный обход начинается с ключа не больше заданного
		it.Seek(seqKey(^uint64(0)))
		if it.ValidForPrefix(keyPrefix) {
			seq = binary.BigEndian.Uint64(it.Item().Key()[len(keyPrefix):])
		}
		return nil
	})
	return seq, err
}

// Append сохраняет пакет и возвращает номер записи
func (j *Journal) Append(p transport.Packet) (uint64, error) {
	payload, err := transport.EncodePayload(p)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.isReady {
		return 0, ErrClosed
	}

	j.seq++
	rec := Record{
		Seq:         j.seq,
		Time:        time.Now().UTC(),
		Type:        p.Type.String(),
		ID:          p.ID,
		Reliability: p.Reliability.String(),
		Payload:     payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	if data, err = j.comp.Compress(data); err != nil {
		return 0, err
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey(rec.Seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return rec.Seq, nil
}

// Scan обходит записи начиная с номера from по возрастанию.
// Ошибка fn прерывает обход и возвращается.
func (j *Journal) Scan(from uint64, fn func(Record) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.isReady {
		return ErrClosed
	}

	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(seqKey(from)); it.ValidForPrefix(keyPrefix); it.Next() {
			var raw []byte
			if err := it.Item().Value(func(val []byte) error {
				raw = append([]byte{}, val...)
				return nil
			}); err != nil {
				return err
			}

			data, err := j.comp.Decompress(raw)
			if err != nil {
				return fmt.Errorf("запись %x: %w", it.Item().Key(), err)
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("ошибка десериализации записи: %w", err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Last номер последней записи
func (j *Journal) Last() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.seq
}

// Tee возвращает Broadcaster, который записывает пакет в журнал и
// передает его дальше. Ошибка журнала не мешает отправке.
func (j *Journal) Tee(inner transport.Broadcaster) transport.Broadcaster {
	return transport.BroadcasterFunc(func(ctx context.Context, p transport.Packet) error {
		if _, err := j.Append(p); err != nil {
			j.logger.Warn("⚠️ Журнал: %s не записан: %v", p, err)
		}
		return inner.Broadcast(ctx, p)
	})
}

// Decode восстанавливает пакет из записи
func (r Record) Decode() (transport.Packet, error) {
	t := transport.ParsePacketType(r.Type)
	payload, err := transport.DecodePayload(t, r.Payload)
	if err != nil {
		return transport.Packet{}, err
	}
	p := transport.Packet{Type: t, ID: r.ID, Payload: payload, Reliability: transport.ReliableOrdered}
	if r.Reliability == transport.ReliableSequenced.String() {
		p.Reliability = transport.ReliableSequenced
	}
	return p, nil
}
