package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string // sensor, binary_sensor
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // temperature, pressure, problem, heat...
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	DisplayPrecision  *int
}

type GenericSwitch struct {
	Device         Device
	Id             string
	Name           string
	UniqueId       string
	Icon           string
	EntityCategory string
}

type GenericInputNumber struct {
	Device            Device
	Id                string
	Name              string
	UniqueId          string
	Icon              string
	UnitOfMeasurement string
	DeviceClass       string
	EntityCategory    string
	Max               float64
	Min               float64
	Step              float64
	Mode              string
}
