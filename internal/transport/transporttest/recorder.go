// Package transporttest содержит записывающий Broadcaster для тестов.
package transporttest

import (
	"context"
	"sync"

	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
)

// Recorder запоминает все отправленные пакеты
type Recorder struct {
	mu      sync.Mutex
	packets []transport.Packet
}

// New создает пустой Recorder
func New() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Broadcast(ctx context.Context, p transport.Packet) error {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	r.mu.Unlock()
	return nil
}

// Packets копия записанных пакетов
func (r *Recorder) Packets() []transport.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Packet, len(r.packets))
	copy(out, r.packets)
	return out
}

// OfType пакеты данного типа
func (r *Recorder) OfType(t transport.PacketType) []transport.Packet {
	var out []transport.Packet
	for _, p := range r.Packets() {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// For пакеты данного типа об объекте
func (r *Recorder) For(t transport.PacketType, id model.NetworkID) []transport.Packet {
	var out []transport.Packet
	for _, p := range r.OfType(t) {
		if p.ID == id {
			out = append(out, p)
		}
	}
	return out
}

// Len число записанных пакетов
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

// Reset забывает пакеты
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = nil
}
