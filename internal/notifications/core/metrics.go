package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dinerbell/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ PipelineMetrics = (*CloudWatchPipelineMetrics)(nil)

// CloudWatchPipelineMetrics publishes pipeline metrics to CloudWatch. Used by
// the Lambda dispatcher, where a scrape endpoint is not available.
//
// Metrics emitted:
//   - DeliverySuccess / DeliveryFailed / DeliverySkipped: Dims {Type}
//   - GatewayBatch, GatewayLatency: Dims {Provider, Status}
//   - NotificationStatus: Dims {Type, Status}
//   - RunProcessed: no dims
//   - NotificationsScheduled: Dims {Producer}
type CloudWatchPipelineMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchPipelineMetrics publishes under namespace, or
// types.MetricNamespace when empty.
func NewCloudWatchPipelineMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchPipelineMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchPipelineMetrics{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, v int, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(v)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func (m *CloudWatchPipelineMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	if len(data) == 0 {
		return
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to publish metrics",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
			"datums", len(data),
		)
	}
}

// RecordDeliveries emits one datum per non-zero outcome kind.
func (m *CloudWatchPipelineMetrics) RecordDeliveries(ctx context.Context, t types.NotificationType, s Summary) {
	typeDim := dim(types.DimType, string(t))
	var data []cwtypes.MetricDatum
	if s.Succeeded > 0 {
		data = append(data, count(types.MetricDeliverySuccess, s.Succeeded, typeDim))
	}
	if s.Failed > 0 {
		data = append(data, count(types.MetricDeliveryFailed, s.Failed, typeDim))
	}
	if s.Skipped > 0 {
		data = append(data, count(types.MetricDeliverySkipped, s.Skipped, typeDim))
	}
	m.put(ctx, data...)
}

// RecordGatewayBatch emits the batch size and call latency.
func (m *CloudWatchPipelineMetrics) RecordGatewayBatch(ctx context.Context, provider string, size int, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	dims := []cwtypes.Dimension{dim(types.DimProvider, provider), dim(types.DimStatus, status)}
	m.put(ctx,
		count(types.MetricGatewayBatch, size, dims...),
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricGatewayLatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

func (m *CloudWatchPipelineMetrics) RecordOutcome(ctx context.Context, t types.NotificationType, status types.NotificationStatus) {
	m.put(ctx, count(types.MetricNotificationStatus, 1,
		dim(types.DimType, string(t)), dim(types.DimStatus, string(status))))
}

func (m *CloudWatchPipelineMetrics) RecordRun(ctx context.Context, processed int, duration time.Duration) {
	m.put(ctx,
		count(types.MetricRunProcessed, processed),
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricRunProcessed + "Duration"),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	)
}

func (m *CloudWatchPipelineMetrics) RecordScheduled(ctx context.Context, producer string, n int) {
	m.put(ctx, count(types.MetricScheduled, n, dim(types.DimProducer, producer)))
}
