package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/codec"
	"github.com/Heidric/shmbridge/internal/customerrors"
	"github.com/Heidric/shmbridge/internal/dispatch"
	"github.com/Heidric/shmbridge/internal/model"
)

// MetricsService renders dispatcher results for the inspection API.
type MetricsService struct {
	dispatcher *dispatch.Dispatcher
}

func NewMetricsService(dispatcher *dispatch.Dispatcher) *MetricsService {
	return &MetricsService{dispatcher: dispatcher}
}

// ListMetrics point-reads every registered leaf. A leaf that fails is still
// listed, with its error, so one bad field does not hide the others.
func (m *MetricsService) ListMetrics() []model.Metric {
	descs := m.dispatcher.Registry().Descriptors()
	out := make([]model.Metric, 0, len(descs))
	for _, d := range descs {
		res, err := m.dispatcher.Handle(d.OID, dispatch.ModeGet)
		if err != nil {
			out = append(out, model.Metric{
				OID:   d.OID.String(),
				Name:  d.Name,
				Type:  d.Type.String(),
				Unit:  d.Unit,
				Error: err.Error(),
			})
			continue
		}
		out = append(out, toModel(res))
	}
	return out
}

// GetMetric performs a point read of oid in the given mode.
func (m *MetricsService) GetMetric(oid, mode string) (*model.Metric, error) {
	md, err := dispatch.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	res, err := m.dispatcher.HandleString(oid, md)
	if err != nil {
		return nil, err
	}
	metric := toModel(res)
	return &metric, nil
}

func (m *MetricsService) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.dispatcher.Available() {
		return errors.Wrap(customerrors.ErrStoreUnavailable, "ping")
	}
	return nil
}

func toModel(res dispatch.Result) model.Metric {
	metric := model.Metric{
		OID:   res.Descriptor.OID.String(),
		Name:  res.Descriptor.Name,
		Type:  res.Value.WireType().String(),
		Unit:  res.Descriptor.Unit,
		Value: res.Value.String(),
	}
	if c, ok := res.Value.(codec.Counter64); ok {
		high, low := c.High, c.Low
		metric.High = &high
		metric.Low = &low
	}
	return metric
}
