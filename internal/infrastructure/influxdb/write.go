package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteFunctionValue records one function-value observation for a device.
//
// This is the primary method for recording state-change history. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - si: device index
//   - fn: function code
//   - fv: function value observed
//   - st: status-type tag that accompanied the observation
//   - source: which pipeline produced it ("push", "poll", "fallback", "echo")
func (c *Client) WriteFunctionValue(si, fn, fv, st int, source string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_function",
		map[string]string{
			"si":     strconv.Itoa(si),
			"fn":     strconv.Itoa(fn),
			"source": source,
		},
		map[string]interface{}{
			"fv": fv,
			"st": st,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSyncEvent records a synchronization lifecycle event, such as a mode
// switch or a gateway reconnect.
//
// Parameters:
//   - event: event name (e.g., "mode_switch", "reconnect")
//   - detail: low-cardinality qualifier (e.g., "bus", "polling")
func (c *Client) WriteSyncEvent(event, detail string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sync_events",
		map[string]string{
			"event":  event,
			"detail": detail,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
