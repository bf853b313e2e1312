package tuner

// Propellers and control loops every vehicle exposes.
var (
	DefaultPropellers   = []string{"front_left", "front_right", "back_left", "back_right", "center_left", "center_right"}
	DefaultControlLoops = []string{"depth_lock", "direction_lock"}
)

// Propeller is the tuning record of one thruster.
type Propeller struct {
	DeadzoneLower int8    `json:"deadzone_lower" yaml:"deadzone_lower"`
	DeadzoneUpper int8    `json:"deadzone_upper" yaml:"deadzone_upper"`
	PowerPositive float64 `json:"power_positive" yaml:"power_positive"`
	PowerNegative float64 `json:"power_negative" yaml:"power_negative"`
	Reversed      bool    `json:"reversed" yaml:"reversed"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
}

// DefaultPropeller is an enabled thruster at 75% power both ways.
func DefaultPropeller() Propeller {
	return Propeller{PowerPositive: 0.75, PowerNegative: 0.75, Enabled: true}
}

// SetDeadzoneLower sets the lower bound and raises the upper bound to keep
// lower <= upper.
func (p *Propeller) SetDeadzoneLower(v int8) {
	p.DeadzoneLower = v
	p.DeadzoneUpper = max(p.DeadzoneUpper, v)
}

// SetDeadzoneUpper sets the upper bound and lowers the lower bound to keep
// lower <= upper.
func (p *Propeller) SetDeadzoneUpper(v int8) {
	p.DeadzoneUpper = v
	p.DeadzoneLower = min(p.DeadzoneLower, v)
}

// ControlLoop holds PID gains.
type ControlLoop struct {
	P float64 `json:"p" yaml:"p"`
	I float64 `json:"i" yaml:"i"`
	D float64 `json:"d" yaml:"d"`
}

// DefaultControlLoop has unit gains.
func DefaultControlLoop() ControlLoop {
	return ControlLoop{P: 1, I: 1, D: 1}
}

// Parameters is the full tuning set stored on the vehicle.
type Parameters struct {
	PropellerPWMFreqCalibration float64                `json:"propeller_pwm_freq_calibration" yaml:"propeller_pwm_freq_calibration"`
	Propellers                  map[string]Propeller   `json:"propeller_parameters" yaml:"propeller_parameters"`
	ControlLoops                map[string]ControlLoop `json:"control_loop_parameters" yaml:"control_loop_parameters"`
}

// DefaultParameters returns defaults for every known propeller and loop.
func DefaultParameters() Parameters {
	p := Parameters{
		Propellers:   make(map[string]Propeller, len(DefaultPropellers)),
		ControlLoops: make(map[string]ControlLoop, len(DefaultControlLoops)),
	}
	for _, name := range DefaultPropellers {
		p.Propellers[name] = DefaultPropeller()
	}
	for _, name := range DefaultControlLoops {
		p.ControlLoops[name] = DefaultControlLoop()
	}
	return p
}

// Feedback is one get_feedbacks result.
type Feedback struct {
	ControlLoops map[string]float32 `json:"control_loops"`
}
