package bridair

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	// measurement name for sensor readings
	HISTORY_MEASUREMENT = "brid_sensor"

	historyConnectTimeout = 10 * time.Second
)

// Records numeric sensor readings as they change
type HistoryWriter interface {
	WriteReading(b Binding, value float64, ts time.Time)
	Close()
}

// InfluxDB connection settings
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (c *InfluxConfig) Enabled() bool { return c != nil && c.URL != "" }

// Writes readings to InfluxDB using the non-blocking write API.
type InfluxHistory struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connects to InfluxDB and verifies the server is reachable.
func NewInfluxHistory(ctx context.Context, cfg InfluxConfig) (*InfluxHistory, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, historyConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	h := &InfluxHistory{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}

	// async write errors are only reported here
	go func(errs <-chan error) {
		for err := range errs {
			log.Printf("influxdb write error: %v", err)
		}
	}(h.writeAPI.Errors())

	return h, nil
}

func (h *InfluxHistory) WriteReading(b Binding, value float64, ts time.Time) {
	h.writeAPI.WritePoint(newReadingPoint(b, value, ts))
}

// Flushes pending points and closes the client
func (h *InfluxHistory) Close() {
	h.writeAPI.Flush()
	h.client.Close()
}

func newReadingPoint(b Binding, value float64, ts time.Time) *write.Point {
	tags := map[string]string{
		"serial":    b.Accessory().Serial,
		"entity_id": b.EntityID(),
		"unique_id": b.UniqueID(),
	}
	if unit := b.DisplayUnit(); unit != "" {
		tags["unit"] = unit
	}

	return write.NewPoint(HISTORY_MEASUREMENT, tags, map[string]any{"value": value}, ts)
}
