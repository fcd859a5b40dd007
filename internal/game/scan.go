package game

import (
	"context"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/reconcile"
)

// ScanContainer сверяет модель контейнера со снимком инвентаря из движка
func (c *Client) ScanContainer(ctx context.Context, container *model.Object, snapshot []inventory.Entry) (reconcile.Outcome, error) {
	return c.recon.Reconcile(ctx, container, snapshot)
}

// scanContext состояние одного обхода GetFirstRef/GetNextRef
type scanContext struct {
	cell interest.CellID
	cat  interest.Category
	refs []interest.Ref
}

// ScanCell обходит ссылки формы formType в ячейке игрока и заменяет
// ими корзину индекса
func (c *Client) ScanCell(ctx context.Context, formType FormType) (interest.CellDiff, error) {
	cat, ok := formCategories[formType]
	if !ok {
		return interest.CellDiff{}, &OperationError{Op: "ScanCell", Err: ErrUnknownFormType}
	}
	player, err := c.Player()
	if err != nil {
		return interest.CellDiff{}, err
	}
	return c.scanCell(ctx, player.GameCell.Get(), cat)
}

func (c *Client) scanCell(ctx context.Context, cell interest.CellID, cat interest.Category) (interest.CellDiff, error) {
	formType, ok := formTypeOf(cat)
	if !ok {
		return interest.CellDiff{}, &OperationError{Op: "ScanCell", Err: ErrUnknownFormType}
	}

	w := correlation.Create[interest.CellDiff](c.reg)
	c.scansMu.Lock()
	c.scans[w.Key()] = &scanContext{cell: cell, cat: cat}
	c.scansMu.Unlock()
	defer c.dropScan(w.Key())

	if err := c.issue(ctx, engine.Cmd(engine.OpGetFirstRef, uint32(formType)).WithKey(w.Key())); err != nil {
		w.Release()
		return interest.CellDiff{}, err
	}

	diff, err := w.Wait(ctx, c.timeouts.Query)
	if err != nil {
		return interest.CellDiff{}, &OperationError{Op: "ScanCell " + cat.String(), Err: err}
	}
	return diff, nil
}

func (c *Client) dropScan(key correlation.Key) {
	c.scansMu.Lock()
	delete(c.scans, key)
	c.scansMu.Unlock()
}

// onNextRef очередная ссылка обхода; 0 завершает обход
func (c *Client) onNextRef(ctx context.Context, h correlation.Handle, res engine.Result) error {
	if res.Key == 0 {
		return nil
	}

	c.scansMu.Lock()
	sc, ok := c.scans[res.Key]
	if !ok {
		c.scansMu.Unlock()
		return correlation.ErrExpiredStorage
	}
	ref := interest.Ref(uint32(res.Value))
	if ref != 0 {
		sc.refs = append(sc.refs, ref)
		c.scansMu.Unlock()
		return c.issue(ctx, engine.Cmd(engine.OpGetNextRef).WithKey(res.Key))
	}
	delete(c.scans, res.Key)
	c.scansMu.Unlock()

	diff := c.index.SwapCell(sc.cell, sc.cat, sc.refs)
	return correlation.Resolve(c.reg.Poll(res.Key, false), diff)
}
