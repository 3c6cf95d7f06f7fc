package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mklimuk/fanmon"
)

var _ Sink = &InfluxSink{}

// InfluxSink writes records as points through the blocking write API.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	now    func() time.Time
}

func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{client: client, writer: client.WriteAPIBlocking(org, bucket), now: time.Now}
}

// Points converts records; records without a timestamp get now.
func Points(records []Record, now time.Time) []*write.Point {
	res := make([]*write.Point, 0, len(records))
	for _, r := range records {
		fields := make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		ts := r.Time
		if ts.IsZero() {
			ts = now
		}
		res = append(res, write.NewPoint(r.Measurement, r.Tags, fields, ts))
	}
	return res
}

func (s *InfluxSink) Send(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := s.writer.WritePoint(ctx, Points(b.Records(), s.now())...)
	if err != nil {
		return fmt.Errorf("influx write: %w: %w", fanmon.ErrRequestFailed, err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}
