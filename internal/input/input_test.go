package input

import (
	"errors"
	"strings"
	"testing"

	"github.com/0xcafed00d/joystick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/packet"
)

func init() {
	monitoring.SetLogger(nil)
}

var padAxes = AxisMap{LeftY: 1, RightY: 3}

// fakeJoystick implements joystick.Joystick for testing.
type fakeJoystick struct {
	states  []joystick.State
	readErr error
	reads   int
	closed  bool
}

func (f *fakeJoystick) AxisCount() int   { return 6 }
func (f *fakeJoystick) ButtonCount() int { return 10 }
func (f *fakeJoystick) Name() string     { return "fake pad" }
func (f *fakeJoystick) Close()           { f.closed = true }

func (f *fakeJoystick) Read() (joystick.State, error) {
	if f.readErr != nil {
		return joystick.State{}, f.readErr
	}
	s := f.states[f.reads%len(f.states)]
	f.reads++
	return s, nil
}

func TestNormalizeAxis(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeAxis(0, LeftThumbDeadzone))
	assert.Equal(t, 0.0, NormalizeAxis(LeftThumbDeadzone-1, LeftThumbDeadzone))
	assert.Equal(t, 0.0, NormalizeAxis(-LeftThumbDeadzone+1, LeftThumbDeadzone))
	assert.Equal(t, 0.0, NormalizeAxis(LeftThumbDeadzone, LeftThumbDeadzone))
	assert.Equal(t, 1.0, NormalizeAxis(MaxThumb, LeftThumbDeadzone))
	assert.Equal(t, -1.0, NormalizeAxis(-MaxThumb, LeftThumbDeadzone))
	// -32768 is one past full scale and must clamp
	assert.Equal(t, -1.0, NormalizeAxis(-32768, RightThumbDeadzone))
	assert.InDelta(t, 0.5, NormalizeAxis(LeftThumbDeadzone+(MaxThumb-LeftThumbDeadzone)/2, LeftThumbDeadzone), 1e-4)
}

func TestJoystick_PollReadsMappedAxes(t *testing.T) {
	dev := &fakeJoystick{states: []joystick.State{{AxisData: []int{0, MaxThumb, 0, -MaxThumb, 0, 0}}}}
	opened := 0
	src := NewJoystickWithOpener(padAxes, func(index int) (joystick.Joystick, error) {
		opened++
		return dev, nil
	})

	r, err := src.Poll(0)
	require.NoError(t, err)
	assert.True(t, r.Connected)
	assert.Equal(t, AxisSample{Left: -1, Right: 1}, r.Sample)

	_, err = src.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, opened, "device should stay open between polls")

	require.NoError(t, src.Close())
	assert.True(t, dev.closed)
}

func TestJoystick_StickUpIsPositive(t *testing.T) {
	// raw -MaxThumb is full forward on the OS driver
	dev := &fakeJoystick{states: []joystick.State{{AxisData: []int{0, -MaxThumb, 0, -MaxThumb, 0, 0}}}}
	src := NewJoystickWithOpener(padAxes, func(int) (joystick.Joystick, error) { return dev, nil })

	r, err := src.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, AxisSample{Left: 1, Right: 1}, r.Sample)

	// the default invert-Y then sends forward as negative wheel values
	assert.Equal(t, []byte{0x81, 0x81, 0x00}, packet.Encode(r.Sample.Left, r.Sample.Right, true, true))
}

func TestAxisMapFor(t *testing.T) {
	assert.Equal(t, AxisMap{LeftY: 1, RightY: 4}, AxisMapFor("linux"))
	assert.Equal(t, AxisMap{LeftY: 1, RightY: 3}, AxisMapFor("windows"))
	assert.Equal(t, AxisMap{LeftY: 1, RightY: 3}, AxisMapFor("darwin"))
}

func TestJoystick_AbsentDeviceIsDisconnected(t *testing.T) {
	src := NewJoystickWithOpener(padAxes, func(index int) (joystick.Joystick, error) {
		return nil, errors.New("no such device")
	})
	r, err := src.Poll(2)
	require.NoError(t, err)
	assert.False(t, r.Connected)
}

func TestJoystick_ReadFailureClosesAndReopens(t *testing.T) {
	dev := &fakeJoystick{readErr: errors.New("unplugged")}
	opened := 0
	src := NewJoystickWithOpener(padAxes, func(index int) (joystick.Joystick, error) {
		opened++
		return dev, nil
	})

	r, err := src.Poll(1)
	require.NoError(t, err)
	assert.False(t, r.Connected)
	assert.True(t, dev.closed)

	dev.readErr = nil
	dev.states = []joystick.State{{AxisData: []int{0, 0, 0, 0}}}
	r, err = src.Poll(1)
	require.NoError(t, err)
	assert.True(t, r.Connected)
	assert.Equal(t, 2, opened)
}

func TestJoystick_MissingAxisIsUnavailable(t *testing.T) {
	dev := &fakeJoystick{states: []joystick.State{{AxisData: []int{0, 0}}}}
	src := NewJoystickWithOpener(padAxes, func(int) (joystick.Joystick, error) { return dev, nil })
	_, err := src.Poll(0)
	assert.ErrorIs(t, err, ErrInputUnavailable)
}

func TestJoystick_InvalidIndex(t *testing.T) {
	src := NewJoystickWithOpener(padAxes, func(int) (joystick.Joystick, error) {
		t.Fatal("opener must not be called for an invalid index")
		return nil, nil
	})
	_, err := src.Poll(4)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = src.Poll(-1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestScripted_ReplaysThenHoldsLast(t *testing.T) {
	src := NewScripted(SampleStep(0.5, -0.5), DisconnectedStep(), UnavailableStep())

	r, err := src.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, Connected(0.5, -0.5), r)

	r, err = src.Poll(0)
	require.NoError(t, err)
	assert.False(t, r.Connected)

	for i := 0; i < 3; i++ {
		_, err = src.Poll(3)
		assert.ErrorIs(t, err, ErrInputUnavailable)
	}
	assert.Equal(t, 5, src.Polls())
	assert.Equal(t, []int{0, 0, 3, 3, 3}, src.Indexes())
}

func TestScripted_Loop(t *testing.T) {
	src := NewScripted(SampleStep(1, 1), DisconnectedStep()).SetLoop(true)
	var connected []bool
	for i := 0; i < 4; i++ {
		r, _ := src.Poll(0)
		connected = append(connected, r.Connected)
	}
	assert.Equal(t, []bool{true, false, true, false}, connected)
}

func TestScripted_EmptyIsDisconnected(t *testing.T) {
	r, err := NewScripted().Poll(0)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, r)
}

func TestScripted_Panic(t *testing.T) {
	src := NewScripted(Step{Kind: StepPanic})
	assert.Panics(t, func() { _, _ = src.Poll(0) })
}

func TestParseScript(t *testing.T) {
	script := `
# warm up
0.5, -0.25
disconnected
UNAVAILABLE
-1,1
`
	steps, err := ParseScript(strings.NewReader(script))
	require.NoError(t, err)
	assert.Equal(t, []Step{
		SampleStep(0.5, -0.25),
		DisconnectedStep(),
		UnavailableStep(),
		SampleStep(-1, 1),
	}, steps)
}

func TestParseScript_Errors(t *testing.T) {
	for _, script := range []string{"0.5", "a,b", "0.1,b", "1,2,3"} {
		_, err := ParseScript(strings.NewReader(script))
		assert.Error(t, err, "script %q", script)
	}
}

func TestValidateIndex(t *testing.T) {
	for i := 0; i < MaxControllers; i++ {
		assert.NoError(t, ValidateIndex(i))
	}
	assert.ErrorIs(t, ValidateIndex(MaxControllers), ErrInvalidIndex)
}
