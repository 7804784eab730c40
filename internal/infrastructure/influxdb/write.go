package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// TagDeviceID is the tag key identifying the device a point belongs to.
const TagDeviceID = "device_id"

// WriteDeviceState queues one device sample on the configured measurement.
// The write is non-blocking; failures surface through SetOnError.
//
//	client.WriteDeviceState("inv-01", map[string]any{"valor": 1200.0, "estado": "on"}, ts)
func (c *Client) WriteDeviceState(deviceID string, fields map[string]any, ts time.Time) {
	c.WritePointWithTime(c.cfg.Measurement, map[string]string{TagDeviceID: deviceID}, fields, ts)
}

// WritePointWithTime queues a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
