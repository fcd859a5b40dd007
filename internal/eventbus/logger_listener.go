package eventbus

import (
	"context"

	"github.com/annel0/mmo-overlay/internal/logging"
)

// StartLoggingListener подписывается на все пакеты и пишет их в лог компонента.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus, logger *logging.Logger) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Trace("[EventBus] %s %s obj=%s seq=%d prio=%d size=%dB", ev.ID, ev.EventType, ev.CorrelationID, ev.Sequence, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на все пакеты активирована")
	return sub, nil
}
