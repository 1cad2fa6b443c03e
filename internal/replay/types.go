package replay

import (
	"fmt"
	"time"
)

// Command is one recorded downstream broker frame, replayable against the
// device it was captured from.
type Command struct {
	SI         int       `json:"si"`
	CommandKey string    `json:"command_key"`
	ST         int       `json:"st"`
	TypeID     int       `json:"type_id"`
	DeviceName string    `json:"device_name"`
	FN         int       `json:"fn"`
	FV         int       `json:"fv"`
	PayloadHex string    `json:"payload_hex"`
	QoS        byte      `json:"qos"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FailedCommand is a recording attempt that never captured a frame.
type FailedCommand struct {
	ID       int64     `json:"id"`
	SI       int       `json:"si"`
	ST       int       `json:"st"`
	FN       int       `json:"fn"`
	FV       int       `json:"fv"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// CommandKey builds the per-device lookup key for a (fn, fv) pair.
func CommandKey(fn, fv int) string {
	return fmt.Sprintf("fn=%d;fv=%d", fn, fv)
}
