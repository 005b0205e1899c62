package types

// Metric names and dimensions shared by the CloudWatch and Prometheus backends.
const (
	MetricRunProcessed       = "RunProcessed"
	MetricDeliverySuccess    = "DeliverySuccess"
	MetricDeliveryFailed     = "DeliveryFailed"
	MetricDeliverySkipped    = "DeliverySkipped"
	MetricGatewayBatch       = "GatewayBatch"
	MetricGatewayLatency     = "GatewayLatency"
	MetricNotificationStatus = "NotificationStatus"
	MetricScheduled          = "NotificationsScheduled"

	DimType     = "Type"
	DimStatus   = "Status"
	DimProvider = "Provider"
	DimProducer = "Producer"

	MetricNamespace = "Dinerbell"
)
