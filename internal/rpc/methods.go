package rpc

// Vehicle RPC methods.
const (
	MethodGetInfo                        = "get_info"
	MethodMove                           = "move"
	MethodSetDepthLocked                 = "set_depth_locked"
	MethodSetDirectionLocked             = "set_direction_locked"
	MethodCatch                          = "catch"
	MethodSetDebugModeEnabled            = "set_debug_mode_enabled"
	MethodGetFeedbacks                   = "get_feedbacks"
	MethodSetPropellerPWMFreqCalibration = "set_propeller_pwm_freq_calibration"
	MethodSetPropellerParameters         = "set_propeller_parameters"
	MethodSetControlLoopParameters       = "set_control_loop_parameters"
	MethodSaveParameters                 = "save_parameters"
	MethodLoadParameters                 = "load_parameters"
	MethodSetPropellerValues             = "set_propeller_values"
	MethodUpdateFirmware                 = "update_firmware"
)

// Positional wraps scalar arguments in a JSON-RPC params array.
func Positional(args ...any) []any {
	return args
}
