package event

import (
	"time"

	"stratpool/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeOrderSubmitted       EventType = "order_submitted"
	EventTypeOrderFilled          EventType = "order_filled"
	EventTypeOrderFailed          EventType = "order_failed"
	EventTypePositionOpened       EventType = "position_opened"
	EventTypePositionClosed       EventType = "position_closed"
	EventTypeRebalanceCompleted   EventType = "rebalance_completed"
	EventTypeRebalanceFailed      EventType = "rebalance_failed"
	EventTypeAllocationInfeasible EventType = "allocation_infeasible"
	EventTypeBrokerError          EventType = "broker_error"
	EventTypeSystemStart          EventType = "system_start"
	EventTypeSystemStop           EventType = "system_stop"
)

// EventSeverity 事件级别
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// GetEventSeverity 事件类型对应的级别
func GetEventSeverity(eventType EventType) EventSeverity {
	switch eventType {
	case EventTypeOrderFailed, EventTypeBrokerError, EventTypeRebalanceFailed:
		return SeverityCritical
	case EventTypeAllocationInfeasible:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventBus 事件总线
type EventBus struct {
	eventCh    chan *Event
	bufferSize int
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	// 设置时间戳
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventCh <- event:
		// 成功发布
	default:
		// Channel 满了，记录警告但不阻塞
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// PublishType 发布事件（便捷方法）
func (eb *EventBus) PublishType(eventType EventType, data map[string]interface{}) {
	eb.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	close(eb.eventCh)
}
