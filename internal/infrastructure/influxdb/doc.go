// Package influxdb provides InfluxDB connectivity for the SunTec gateway.
//
// It wraps the official influxdb-client-go v2 library. Device samples
// arriving over MQTT are written as points on a single measurement tagged
// with device_id, with fields valor, nivel and estado. The gateway's
// latest and range endpoints read them back with pivoted Flux queries.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("inv-01", map[string]any{"valor": 1200.0}, time.Now())
//
//	rows, err := client.Query(ctx, influxdb.StateQuery{
//	    Bucket:      client.Bucket(),
//	    Measurement: client.Measurement(),
//	    DeviceID:    "inv-01",
//	    Limit:       1,
//	}.Flux())
//
// # Error Handling
//
// Writes are non-blocking and batched; their errors are delivered through
// SetOnError. Connection, health check and query errors are returned.
package influxdb
