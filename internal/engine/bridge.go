package engine

import (
	"context"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/interest"
)

// Command одна команда движку. Key == 0: результат не ожидается.
type Command struct {
	Opcode Opcode          `json:"op"`
	Params []any           `json:"params,omitempty"`
	Key    correlation.Key `json:"key,omitempty"`
}

// Cmd короткий конструктор команды без корреляции
func Cmd(op Opcode, params ...any) Command {
	return Command{Opcode: op, Params: params}
}

// WithKey возвращает копию команды с ключом корреляции
func (c Command) WithKey(key correlation.Key) Command {
	c.Key = key
	return c
}

// Result асинхронное завершение команды
type Result struct {
	Opcode Opcode          `json:"op"`
	Key    correlation.Key `json:"key,omitempty"`
	Args   []float64       `json:"args,omitempty"`
	Value  float64         `json:"value"`
	Data   []byte          `json:"data,omitempty"`
	Text   string          `json:"text,omitempty"`
	Failed bool            `json:"failed,omitempty"`
}

// Arg возвращает числовой параметр команды, 0 если его нет
func (r Result) Arg(i int) float64 {
	if i < 0 || i >= len(r.Args) {
		return 0
	}
	return r.Args[i]
}

// Ref параметр как ссылка движка
func (r Result) Ref(i int) interest.Ref {
	return interest.Ref(uint32(r.Arg(i)))
}

// Uint параметр как беззнаковое целое
func (r Result) Uint(i int) uint32 {
	return uint32(r.Arg(i))
}

// Bool результат как логическое значение
func (r Result) Bool() bool {
	return r.Value != 0
}

// Bridge асинхронный исполнитель команд в движке.
// Один вызов Issue: одна пачка, обрамленная begin/end.
type Bridge interface {
	Issue(ctx context.Context, batch ...Command) error
	Results() <-chan Result
	Close() error
}

// ToEngineCondition переводит проценты состояния в шкалу движка [0,1]
func ToEngineCondition(percent float64) float64 {
	return percent / 100.0
}

// FromEngineCondition переводит шкалу движка в проценты
func FromEngineCondition(scale float64) float64 {
	return scale * 100.0
}
