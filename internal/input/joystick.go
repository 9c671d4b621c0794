package input

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/0xcafed00d/joystick"

	"github.com/banshee-data/wheelcast/internal/monitoring"
)

// Recommended XInput thumbstick dead zones and full scale.
const (
	LeftThumbDeadzone  = 7849
	RightThumbDeadzone = 8689
	MaxThumb           = 32767
)

// AxisMap selects which raw axes carry the left and right vertical stick.
type AxisMap struct {
	LeftY  int
	RightY int
}

// DefaultAxisMap returns the vertical stick axes of an Xbox pad on the
// running platform.
func DefaultAxisMap() AxisMap {
	return AxisMapFor(runtime.GOOS)
}

// AxisMapFor returns the Xbox pad axis layout for goos. The Linux xpad driver
// reports LX, LY, LT, RX, RY, RT; winmm and the macOS HID driver report
// X, Y, Z/RX, R/RY.
func AxisMapFor(goos string) AxisMap {
	if goos == "linux" {
		return AxisMap{LeftY: 1, RightY: 4}
	}
	return AxisMap{LeftY: 1, RightY: 3}
}

// JoystickOpener opens the device at a controller index. It exists so tests
// can replace the hardware.
type JoystickOpener func(index int) (joystick.Joystick, error)

// Joystick polls real game controllers through the OS joystick API. Devices
// are opened on first poll and reopened after a read failure, so an unplugged
// pad reports Disconnected until it comes back.
type Joystick struct {
	mu      sync.Mutex
	open    JoystickOpener
	axes    AxisMap
	devices map[int]joystick.Joystick
}

// NewJoystick creates a joystick source using the OS driver.
func NewJoystick(axes AxisMap) *Joystick {
	return NewJoystickWithOpener(axes, joystick.Open)
}

// NewJoystickWithOpener creates a joystick source using open to reach devices.
func NewJoystickWithOpener(axes AxisMap, open JoystickOpener) *Joystick {
	return &Joystick{
		open:    open,
		axes:    axes,
		devices: make(map[int]joystick.Joystick),
	}
}

// Poll reads the vertical axes of the controller at index.
func (j *Joystick) Poll(index int) (Reading, error) {
	if err := ValidateIndex(index); err != nil {
		return Disconnected, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	js, ok := j.devices[index]
	if !ok {
		var err error
		js, err = j.open(index)
		if err != nil {
			// an absent device is the normal unplugged case
			return Disconnected, nil
		}
		monitoring.Logf("controller %d connected: %s (%d axes)", index, js.Name(), js.AxisCount())
		j.devices[index] = js
	}

	state, err := js.Read()
	if err != nil {
		js.Close()
		delete(j.devices, index)
		monitoring.Warnf("controller %d read failed, closing: %v", index, err)
		return Disconnected, nil
	}

	left, err := axisValue(state.AxisData, j.axes.LeftY)
	if err != nil {
		return Disconnected, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	right, err := axisValue(state.AxisData, j.axes.RightY)
	if err != nil {
		return Disconnected, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}

	// The OS drivers report stick up as negative; readings use up positive.
	return Connected(
		NormalizeAxis(-left, LeftThumbDeadzone),
		NormalizeAxis(-right, RightThumbDeadzone),
	), nil
}

// Close releases every opened device.
func (j *Joystick) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for index, js := range j.devices {
		js.Close()
		delete(j.devices, index)
	}
	return nil
}

func axisValue(axes []int, index int) (int, error) {
	if index < 0 || index >= len(axes) {
		return 0, fmt.Errorf("axis %d not present (device reports %d axes)", index, len(axes))
	}
	return axes[index], nil
}

// NormalizeAxis maps a raw thumbstick value to [-1, 1], returning 0 inside the
// dead zone and re-ranging the remainder so the output starts at 0 at the
// dead zone edge.
func NormalizeAxis(raw, deadzone int) float64 {
	if raw > -deadzone && raw < deadzone {
		return 0
	}
	var norm float64
	if raw > 0 {
		norm = float64(raw-deadzone) / float64(MaxThumb-deadzone)
	} else {
		norm = float64(raw+deadzone) / float64(MaxThumb-deadzone)
	}
	if norm > 1 {
		return 1
	}
	if norm < -1 {
		return -1
	}
	return norm
}
