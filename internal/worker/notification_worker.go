package worker

import (
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/service"
)

// StartNotificationWorker registers notification handlers and, when given, the Kafka
// sink for every SLA event.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, sink *events.KafkaSink) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if sink != nil && dispatcher != nil {
		sink.Register(dispatcher, events.SLAEventTypes...)
	}
}
