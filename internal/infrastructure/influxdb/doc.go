// Package influxdb provides InfluxDB connectivity for CorePost telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, point writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Device check-in heartbeats (fleet last-seen, check-in frequency)
//   - Panic-state transitions (lock/unlock activity over time)
//
// Telemetry is strictly optional. When the integration is disabled or
// the server is unreachable, the backend runs without it.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "corepost",
//	    Bucket:  "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg, func(err error) {
//	    log.Println("telemetry write failed:", err)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteHeartbeat("a3f9c2e18b4d6071", "unlocked", "client")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are reported through
// the callback given to Connect. Connection and health check errors are
// returned directly.
package influxdb
