// Package enginetest содержит записывающий мост движка для тестов.
package enginetest

import (
	"context"
	"sync"

	"github.com/annel0/mmo-overlay/internal/engine"
)

// Responder формирует ответ движка на команду; false: ответа нет.
type Responder func(cmd engine.Command) (engine.Result, bool)

// Bridge записывает выданные команды и отвечает через Responder.
type Bridge struct {
	mu        sync.Mutex
	batches   [][]engine.Command
	responder Responder
	results   chan engine.Result
	closed    bool
}

// New создает мост с буфером результатов
func New(responder Responder) *Bridge {
	return &Bridge{
		responder: responder,
		results:   make(chan engine.Result, 1024),
	}
}

// SetResponder заменяет обработчик ответов
func (b *Bridge) SetResponder(r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responder = r
}

// Issue записывает пачку и кладет ответы в канал результатов
func (b *Bridge) Issue(ctx context.Context, batch ...engine.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]engine.Command, len(batch))
	copy(cp, batch)
	b.batches = append(b.batches, cp)

	if b.responder == nil || b.closed {
		return nil
	}
	for _, cmd := range batch {
		if res, ok := b.responder(cmd); ok {
			b.results <- res
		}
	}
	return nil
}

// Push кладет произвольный результат (событие движка)
func (b *Bridge) Push(res engine.Result) {
	b.results <- res
}

// Results канал результатов
func (b *Bridge) Results() <-chan engine.Result {
	return b.results
}

// Close закрывает канал результатов
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.results)
	}
	return nil
}

// Batches копия записанных пачек
func (b *Bridge) Batches() [][]engine.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]engine.Command, len(b.batches))
	copy(out, b.batches)
	return out
}

// Commands все выданные команды подряд
func (b *Bridge) Commands() []engine.Command {
	var out []engine.Command
	for _, batch := range b.Batches() {
		out = append(out, batch...)
	}
	return out
}

// Count число выданных команд с данным кодом
func (b *Bridge) Count(op engine.Opcode) int {
	n := 0
	for _, cmd := range b.Commands() {
		if cmd.Opcode == op {
			n++
		}
	}
	return n
}

// Reset забывает записанные пачки
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = nil
}
