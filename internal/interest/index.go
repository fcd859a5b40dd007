package interest

import (
	"sort"
	"sync"

	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/metrics"
)

// CellID идентификатор области мира. 0: нет ячейки.
type CellID uint32

// Ref ссылка движка на объект сцены.
type Ref uint32

// Category битовая маска типа объекта.
type Category uint8

const (
	CategoryReference Category = 0x01
	CategoryObject    Category = 0x02
	CategoryItem      Category = 0x04
	CategoryContainer Category = 0x08
	CategoryActor     Category = 0x10
	CategoryPlayer    Category = 0x20

	AllObjects    = CategoryObject | CategoryItem | CategoryContainer | CategoryActor | CategoryPlayer
	AllContainers = CategoryContainer | CategoryActor | CategoryPlayer
	AllActors     = CategoryActor | CategoryPlayer
)

// String возвращает имя категории
func (c Category) String() string {
	switch c {
	case CategoryReference:
		return "reference"
	case CategoryObject:
		return "object"
	case CategoryItem:
		return "item"
	case CategoryContainer:
		return "container"
	case CategoryActor:
		return "actor"
	case CategoryPlayer:
		return "player"
	default:
		return "mixed"
	}
}

// ParseCategory обратное к String; "" и "all" дают AllObjects
func ParseCategory(name string) (Category, bool) {
	switch name {
	case "", "all":
		return AllObjects, true
	case "actors":
		return AllActors, true
	case "containers":
		return AllContainers, true
	}
	for c := CategoryReference; c <= CategoryPlayer; c <<= 1 {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// location текущая корзина объекта
type location struct {
	cell CellID
	cat  Category
}

// Transition изменение видимости объекта при перемещении.
type Transition struct {
	WasInContext bool
	InContext    bool
}

// Entered объект вошел в контекст
func (t Transition) Entered() bool { return !t.WasInContext && t.InContext }

// Left объект покинул контекст
func (t Transition) Left() bool { return t.WasInContext && !t.InContext }

// CellDiff результат замены набора ссылок ячейки.
type CellDiff struct {
	Appeared    []Ref
	Disappeared []Ref
}

// Empty сообщает, что изменений нет
func (d CellDiff) Empty() bool { return len(d.Appeared) == 0 && len(d.Disappeared) == 0 }

// Stats снимок размеров индекса
type Stats struct {
	Cells        int      `json:"cells"`
	Refs         int      `json:"refs"`
	ContextCells []CellID `json:"context_cells"`
}

// Index отслеживает объекты по ячейкам и набор ячеек в контексте игрока.
// Каждый объект находится не более чем в одной корзине (ячейка, категория).
type Index struct {
	mu      sync.Mutex
	cells   map[CellID]map[Category]map[Ref]struct{}
	where   map[Ref]location
	context []CellID
	inCtx   map[CellID]struct{}
	logger  *logging.Logger
}

// NewIndex создает пустой индекс
func NewIndex(logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Index{
		cells:  make(map[CellID]map[Category]map[Ref]struct{}),
		where:  make(map[Ref]location),
		inCtx:  make(map[CellID]struct{}),
		logger: logger,
	}
}

// Tx доступ к индексу внутри сессии.
type Tx struct {
	idx *Index
}

// Session выполняет fn под защитой индекса. Сессии сериализуются.
func (idx *Index) Session(fn func(tx *Tx)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	fn(&Tx{idx: idx})
}

func (idx *Index) bucket(cell CellID, cat Category, create bool) map[Ref]struct{} {
	cats, ok := idx.cells[cell]
	if !ok {
		if !create {
			return nil
		}
		cats = make(map[Category]map[Ref]struct{})
		idx.cells[cell] = cats
	}
	refs, ok := cats[cat]
	if !ok && create {
		refs = make(map[Ref]struct{})
		cats[cat] = refs
	}
	return refs
}

func (idx *Index) erase(ref Ref) (location, bool) {
	loc, ok := idx.where[ref]
	if !ok {
		return location{}, false
	}
	delete(idx.where, ref)

	if refs := idx.bucket(loc.cell, loc.cat, false); refs != nil {
		delete(refs, ref)
		if len(refs) == 0 {
			delete(idx.cells[loc.cell], loc.cat)
			if len(idx.cells[loc.cell]) == 0 {
				delete(idx.cells, loc.cell)
			}
		}
	}
	return loc, true
}

func (idx *Index) insert(ref Ref, cat Category, cell CellID) {
	idx.bucket(cell, cat, true)[ref] = struct{}{}
	idx.where[ref] = location{cell: cell, cat: cat}
}

func (idx *Index) isInContext(cell CellID) bool {
	if cell == 0 {
		return false
	}
	_, ok := idx.inCtx[cell]
	return ok
}

// Track добавляет объект в корзину, убирая его из прежней.
func (tx *Tx) Track(ref Ref, cat Category, cell CellID) {
	tx.idx.erase(ref)
	tx.idx.insert(ref, cat, cell)
}

// Untrack удаляет объект из индекса.
func (tx *Tx) Untrack(ref Ref) bool {
	_, ok := tx.idx.erase(ref)
	return ok
}

// Move переносит объект между ячейками одной операцией.
func (tx *Tx) Move(ref Ref, cat Category, from, to CellID) Transition {
	if loc, ok := tx.idx.where[ref]; ok {
		if loc.cell != from {
			tx.idx.logger.Debug("ref %#08x moved from %#x, index had %#x", uint32(ref), uint32(from), uint32(loc.cell))
		}
		from = loc.cell
	}
	tx.idx.erase(ref)
	tx.idx.insert(ref, cat, to)

	return Transition{
		WasInContext: tx.idx.isInContext(from),
		InContext:    tx.idx.isInContext(to),
	}
}

// Cell возвращает ячейку объекта
func (tx *Tx) Cell(ref Ref) (CellID, bool) {
	loc, ok := tx.idx.where[ref]
	return loc.cell, ok
}

// IsInContext проверяет ячейку на вхождение в контекст
func (tx *Tx) IsInContext(cell CellID) bool {
	return tx.idx.isInContext(cell)
}

// SwapCell заменяет набор ссылок категории в ячейке и возвращает разницу.
func (tx *Tx) SwapCell(cell CellID, cat Category, refs []Ref) CellDiff {
	idx := tx.idx
	old := idx.bucket(cell, cat, false)

	fresh := make(map[Ref]struct{}, len(refs))
	for _, ref := range refs {
		fresh[ref] = struct{}{}
	}

	var diff CellDiff
	for ref := range fresh {
		if _, ok := old[ref]; !ok {
			diff.Appeared = append(diff.Appeared, ref)
		}
	}
	for ref := range old {
		if _, ok := fresh[ref]; !ok {
			diff.Disappeared = append(diff.Disappeared, ref)
		}
	}

	for _, ref := range diff.Disappeared {
		idx.erase(ref)
	}
	for _, ref := range diff.Appeared {
		idx.erase(ref)
		idx.insert(ref, cat, cell)
	}

	sortRefs(diff.Appeared)
	sortRefs(diff.Disappeared)
	return diff
}

// Track добавляет объект в корзину
func (idx *Index) Track(ref Ref, cat Category, cell CellID) {
	idx.Session(func(tx *Tx) { tx.Track(ref, cat, cell) })
}

// Untrack удаляет объект из индекса
func (idx *Index) Untrack(ref Ref) (ok bool) {
	idx.Session(func(tx *Tx) { ok = tx.Untrack(ref) })
	return ok
}

// Move атомарно переносит объект между ячейками
func (idx *Index) Move(ref Ref, cat Category, from, to CellID) (t Transition) {
	idx.Session(func(tx *Tx) { t = tx.Move(ref, cat, from, to) })
	return t
}

// SwapCell атомарно заменяет набор ссылок ячейки
func (idx *Index) SwapCell(cell CellID, cat Category, refs []Ref) (d CellDiff) {
	idx.Session(func(tx *Tx) { d = tx.SwapCell(cell, cat, refs) })
	return d
}

// IsInContext проверяет ячейку; 0 всегда вне контекста
func (idx *Index) IsInContext(cell CellID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.isInContext(cell)
}

// ReplaceContext заменяет набор ячеек контекста и возвращает
// entering = new − old, leaving = old − new.
func (idx *Index) ReplaceContext(cells []CellID) (entering, leaving []CellID) {
	next := make(map[CellID]struct{}, len(cells))
	ordered := make([]CellID, 0, len(cells))
	for _, cell := range cells {
		if cell == 0 {
			continue
		}
		if _, dup := next[cell]; dup {
			continue
		}
		next[cell] = struct{}{}
		ordered = append(ordered, cell)
	}
	sortCells(ordered)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, cell := range ordered {
		if _, ok := idx.inCtx[cell]; !ok {
			entering = append(entering, cell)
		}
	}
	for _, cell := range idx.context {
		if _, ok := next[cell]; !ok {
			leaving = append(leaving, cell)
		}
	}

	idx.context = ordered
	idx.inCtx = next
	metrics.InterestContextCells.Set(float64(len(ordered)))

	if len(entering) > 0 || len(leaving) > 0 {
		idx.logger.Debug("context: +%d -%d cells", len(entering), len(leaving))
	}
	return entering, leaving
}

// Context возвращает копию набора ячеек контекста
func (idx *Index) Context() []CellID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]CellID, len(idx.context))
	copy(out, idx.context)
	return out
}

// RefsIn собирает ссылки заданных категорий в перечисленных ячейках
func (idx *Index) RefsIn(cells []CellID, mask Category) []Ref {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.collect(cells, mask)
}

// Query собирает объекты категорий mask во всех ячейках контекста
func (idx *Index) Query(mask Category) []Ref {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.collect(idx.context, mask)
}

func (idx *Index) collect(cells []CellID, mask Category) []Ref {
	var out []Ref
	for _, cell := range cells {
		if cell == 0 {
			continue
		}
		for cat, refs := range idx.cells[cell] {
			if cat&mask == 0 {
				continue
			}
			for ref := range refs {
				out = append(out, ref)
			}
		}
	}
	sortRefs(out)
	return out
}

// Reset очищает индекс и контекст
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cells = make(map[CellID]map[Category]map[Ref]struct{})
	idx.where = make(map[Ref]location)
	idx.context = nil
	idx.inCtx = make(map[CellID]struct{})
	metrics.InterestContextCells.Set(0)
}

// Stats возвращает размеры индекса
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ctx := make([]CellID, len(idx.context))
	copy(ctx, idx.context)
	return Stats{Cells: len(idx.cells), Refs: len(idx.where), ContextCells: ctx}
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
}

func sortCells(cells []CellID) {
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })
}
