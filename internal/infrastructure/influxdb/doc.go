// Package influxdb provides the InfluxDB v2 connection used for router
// telemetry.
//
// It wraps influxdb-client-go's non-blocking write API: points are batched
// and flushed every flush_interval seconds, write failures are delivered to
// the SetOnError callback, and the site ID is attached to every point as
// the "site" tag.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePoint(write.NewPoint("router_state", tags, fields, time.Now()))
package influxdb
