package device

// Device type identifiers assigned by the vendor cloud.
const (
	TypeLight        = 8
	TypeAirCon       = 12
	TypeCover        = 14
	TypeFloorHeating = 16
	TypeFreshAir     = 36
)

// typeNames maps vendor type identifiers to readable kinds.
var typeNames = map[int]string{
	TypeLight:        "light",
	TypeAirCon:       "climate",
	TypeCover:        "cover",
	TypeFloorHeating: "climate",
	TypeFreshAir:     "fan",
}

// ACModes maps air-conditioner mode values (fn=3) to names.
var ACModes = map[int]string{
	0: "cool",
	1: "heat",
	2: "fan_only",
	3: "dry",
}

// FanSpeeds maps fan-speed values to names. Air conditioners carry speed
// on fn=4, fresh-air units on fn=3.
var FanSpeeds = map[int]string{
	0: "auto",
	1: "low",
	2: "medium",
	3: "high",
}

// Device is the static metadata for one site device.
type Device struct {
	SI     int    `json:"si"`
	ST     int    `json:"st"`
	TypeID int    `json:"type_id"`
	Name   string `json:"name"`
	Room   string `json:"room,omitempty"`
}

// Kind returns the readable device kind for the type identifier.
func (d Device) Kind() string {
	if name, ok := typeNames[d.TypeID]; ok {
		return name
	}
	return "unknown"
}

// Properties are the typed fields derived from a device's raw function
// values. Pointer fields are nil when the underlying function has never
// been observed.
type Properties struct {
	Power       *bool    `json:"power,omitempty"`
	Brightness  *int     `json:"brightness,omitempty"`
	Position    *int     `json:"position,omitempty"`
	MovingState string   `json:"moving_state,omitempty"`
	TargetTemp  *float64 `json:"target_temperature,omitempty"`
	CurrentTemp *float64 `json:"current_temperature,omitempty"`
	HVACMode    string   `json:"hvac_mode,omitempty"`
	FanSpeed    string   `json:"fan_speed,omitempty"`
}
