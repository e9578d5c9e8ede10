package notify

import (
	"context"
	"sync"

	"stratpool/config"
	"stratpool/event"
	"stratpool/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
// 订阅事件总线，把需要通知的事件并发推送到所有启用的渠道。
type NotificationService struct {
	notifiers []Notifier
	cfg       *config.Config
	eventBus  *event.EventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config, eventBus *event.EventBus) *NotificationService {
	ctx, cancel := context.WithCancel(context.Background())
	ns := &NotificationService{
		cfg:      cfg,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
	}

	// 初始化启用的通知渠道
	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			telegramNotifier, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, telegramNotifier)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			webhookNotifier, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, webhookNotifier)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}

	return ns
}

// Start 启动事件消费
func (ns *NotificationService) Start() {
	if ns.eventBus == nil {
		return
	}
	ns.wg.Add(1)
	go ns.consume()
}

// Stop 停止事件消费
func (ns *NotificationService) Stop() {
	ns.cancel()
	ns.wg.Wait()
}

func (ns *NotificationService) consume() {
	defer ns.wg.Done()

	eventCh := ns.eventBus.Subscribe()
	for {
		select {
		case <-ns.ctx.Done():
			return
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			ns.Send(evt)
		}
	}
}

// shouldNotify 检查是否需要通知
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	if !ns.cfg.Notifications.Enabled {
		return false
	}

	// Critical 级别始终通知
	if event.GetEventSeverity(eventType) == event.SeverityCritical {
		return true
	}

	switch eventType {
	case event.EventTypeOrderFilled,
		event.EventTypeRebalanceCompleted,
		event.EventTypeAllocationInfeasible,
		event.EventTypeSystemStart,
		event.EventTypeSystemStop:
		return true
	default:
		// 提交中、持仓开平等高频事件不推送
		return false
	}
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil {
		return
	}

	if !ns.shouldNotify(evt.Type) {
		return
	}

	// 异步发送，不阻塞
	go func() {
		var wg sync.WaitGroup
		for _, notifier := range ns.notifiers {
			wg.Add(1)
			go func(n Notifier) {
				defer wg.Done()
				if err := n.Send(evt); err != nil {
					logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
				}
			}(notifier)
		}
		wg.Wait()
	}()
}
