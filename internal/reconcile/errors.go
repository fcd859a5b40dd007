package reconcile

import (
	"errors"
	"fmt"

	"github.com/annel0/mmo-overlay/internal/model"
)

// ErrUnresolvedDelta дельта инвентаря не объяснена ни соседями, ни сценой
var ErrUnresolvedDelta = errors.New("unresolved reconciliation delta")

// UnresolvedDeltaError подробности необъясненной дельты
type UnresolvedDeltaError struct {
	Container  model.NetworkID
	Base       model.BaseID
	Count      int32
	Candidates int
}

func (e *UnresolvedDeltaError) Error() string {
	return fmt.Sprintf("container %#x: base %#08x delta %d not matched (%d candidates)",
		uint64(e.Container), uint32(e.Base), e.Count, e.Candidates)
}

func (e *UnresolvedDeltaError) Is(target error) bool {
	return target == ErrUnresolvedDelta
}
