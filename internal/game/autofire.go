package game

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/mmo-overlay/internal/model"
)

// autoFire циклы автоматической стрельбы по актерам
type autoFire struct {
	mu    sync.Mutex
	loops map[model.NetworkID]context.CancelFunc
}

// StartAutoFire стреляет с частотой rate выстрелов в секунду, пока
// анимация оружия актера не сменится или оружие не будет снято.
// Предыдущий цикл этого актера останавливается.
func (c *Client) StartAutoFire(ctx context.Context, actor *model.Object, weapon model.BaseID, rate float64) {
	if rate <= 0 || actor.Actor == nil {
		return
	}
	interval := time.Duration(float64(time.Second) / rate)
	anim := actor.Actor.Weapon.Get()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.fire.mu.Lock()
	if prev, ok := c.fire.loops[actor.ID()]; ok {
		prev()
	}
	c.fire.loops[actor.ID()] = cancel
	c.fire.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.forgetAutoFire(actor.ID(), loopCtx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}

			if _, ok := c.factory.Get(actor.ID()); !ok {
				return
			}
			if actor.Actor.Weapon.Get() != anim || !c.equipped(actor, weapon) {
				return
			}
			if err := c.FireWeapon(loopCtx, actor, weapon); err != nil {
				c.logger.Warn("⚠️ Автоогонь %s: %v", actor, err)
				return
			}
		}
	}()
}

// StopAutoFire останавливает цикл актера
func (c *Client) StopAutoFire(id model.NetworkID) {
	c.fire.mu.Lock()
	cancel, ok := c.fire.loops[id]
	delete(c.fire.loops, id)
	c.fire.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAllAutoFire останавливает все циклы
func (c *Client) StopAllAutoFire() {
	c.fire.mu.Lock()
	loops := c.fire.loops
	c.fire.loops = make(map[model.NetworkID]context.CancelFunc)
	c.fire.mu.Unlock()
	for _, cancel := range loops {
		cancel()
	}
}

// AutoFiring сообщает, идет ли цикл у актера
func (c *Client) AutoFiring(id model.NetworkID) bool {
	c.fire.mu.Lock()
	defer c.fire.mu.Unlock()
	_, ok := c.fire.loops[id]
	return ok
}

// forgetAutoFire удаляет цикл, если его не заменил более новый
func (c *Client) forgetAutoFire(id model.NetworkID, loopCtx context.Context) {
	c.fire.mu.Lock()
	defer c.fire.mu.Unlock()
	if loopCtx.Err() != nil {
		return
	}
	if cancel, ok := c.fire.loops[id]; ok {
		delete(c.fire.loops, id)
		cancel()
	}
}

// equipped экипирован ли у актера предмет с базой weapon
func (c *Client) equipped(actor *model.Object, weapon model.BaseID) bool {
	for _, id := range actor.Container.Items.IDs() {
		item, ok := c.factory.Get(id)
		if ok && item.Item != nil && item.Base.Get() == weapon && item.Item.Equipped.Get() {
			return true
		}
	}
	return false
}
