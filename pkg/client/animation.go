package client

import (
	"fmt"
	"time"

	"github.com/m2mlink/m2m-go/pkg/hardware"
	"github.com/m2mlink/m2m-go/pkg/model"
)

// Animation defaults of the start-up effect.
const (
	DefaultAnimationTurns = 50
	DefaultAnimationDelay = 200 * time.Millisecond
)

// AnimationArgs are the decoded arguments of the Disco resource.
type AnimationArgs struct {
	Turns int
	Delay time.Duration
}

// ParseAnimationArgs decodes [turns, delayHi, delayLo]. Turns is a signed
// byte and must not be negative; the delay is in milliseconds.
func ParseAnimationArgs(args []byte) (AnimationArgs, error) {
	if len(args) != 3 {
		return AnimationArgs{}, fmt.Errorf("%w: disco takes 3 argument bytes, got %d", model.ErrInvalidValue, len(args))
	}
	turns := int8(args[0])
	if turns < 0 {
		return AnimationArgs{}, fmt.Errorf("%w: negative turns %d", model.ErrInvalidValue, turns)
	}
	ms := int(args[1])<<8 | int(args[2])
	return AnimationArgs{Turns: int(turns), Delay: time.Duration(ms) * time.Millisecond}, nil
}

// Bytes encodes the arguments for the Disco resource. Turns are clamped
// to 127 and the delay to 65535ms.
func (a AnimationArgs) Bytes() []byte {
	turns := min(max(a.Turns, 0), 127)
	ms := min(max(a.Delay.Milliseconds(), 0), 0xffff)
	return []byte{byte(turns), byte(ms >> 8), byte(ms)}
}

// animationFrame is the state carried from one frame to the next.
type animationFrame struct {
	remaining int
	delay     time.Duration
}

// ledPattern returns the colours shown for a frame. Consecutive frames
// overlap by one colour: red, red+green, green, green+blue, blue,
// blue+red.
func ledPattern(remaining int) hardware.State {
	m := remaining % 6
	return hardware.State{
		hardware.Red:   m == 0 || m == 1 || m == 2,
		hardware.Green: m == 2 || m == 3 || m == 4,
		hardware.Blue:  m == 4 || m == 5 || m == 0,
	}
}

// Animate starts the LED animation, replacing one already running. The
// first frame is shown now and turns further frames follow, delay apart.
func (c *Client) Animate(turns int, delay time.Duration) {
	c.animation.Cancel()
	c.animation = nil
	c.frame(animationFrame{remaining: turns, delay: delay})
}

// AnimationRemaining returns the frames still to come.
func (c *Client) AnimationRemaining() int {
	if !c.animation.Pending() {
		return 0
	}
	return c.remaining + 1
}

// Frames returns the number of animation frames shown so far.
func (c *Client) Frames() int {
	return c.frames
}

func (c *Client) frame(f animationFrame) {
	c.frames++
	c.animation = nil

	remaining := f.remaining
	if remaining > 0 {
		remaining--
		next := animationFrame{remaining: remaining, delay: f.delay}
		c.animation = c.sched.Post(func() { c.frame(next) }, f.delay)
	}
	c.remaining = remaining
	c.show(ledPattern(remaining))
}

// show mirrors a pattern into the LED resources and the outputs.
func (c *Client) show(state hardware.State) {
	for i, on := range state {
		if led := c.objs.leds[i]; led != nil {
			led.SetBool(on)
		}
		c.setIndicator(hardware.Indicator(i), on)
	}
}

func (c *Client) setIndicator(i hardware.Indicator, on bool) {
	if c.outputs == nil {
		return
	}
	if err := c.outputs.SetIndicator(i, on); err != nil {
		c.logger.Debug("set indicator", "indicator", i, "error", err)
	}
}
