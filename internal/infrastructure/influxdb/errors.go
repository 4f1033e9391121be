package influxdb

import "errors"

var (
	// ErrHealthCheck is returned when the InfluxDB server is unreachable
	// or reports an unhealthy status at connect time.
	ErrHealthCheck = errors.New("influxdb: health check failed")
)
