// Package msg defines the messages exchanged between interrupt handlers and
// tasks and the bounded mailbox every task receives them in.
package msg

// Type identifies the payload carried by a Message.
type Type uint8

// Message types.
const (
	InterruptXHCI Type = iota
	TimerTimeout
	KeyPush
	Layer
	LayerFinish
	MouseMove
	MouseButton
	WindowActive
)

var typeNames = [...]string{
	"interrupt-xhci", "timer-timeout", "key-push", "layer", "layer-finish",
	"mouse-move", "mouse-button", "window-active",
}

// String implements fmt.Stringer for Type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// LayerOp is the operation requested by a Layer message.
type LayerOp uint8

// Layer operations.
const (
	LayerMove LayerOp = iota
	LayerMoveRelative
	LayerDraw
	LayerDrawArea
)

// Rect is a rectangle in screen coordinates.
type Rect struct {
	X, Y, W, H int32
}

// TimerArg is the payload of a TimerTimeout message.
type TimerArg struct {
	Timeout uint64
	Value   int32
}

// KeyArg is the payload of a KeyPush message.
type KeyArg struct {
	Modifier uint8
	Keycode  uint8
	ASCII    byte
	Press    bool
}

// LayerArg is the payload of a Layer message.
type LayerArg struct {
	Op      LayerOp
	LayerID uint32
	Rect    Rect
}

// MouseMoveArg is the payload of a MouseMove message.
type MouseMoveArg struct {
	X, Y, DX, DY int32
	Buttons      uint8
}

// MouseButtonArg is the payload of a MouseButton message.
type MouseButtonArg struct {
	X, Y   int32
	Press  bool
	Button int32
}

// Message is a fixed-size tagged value. Only the payload field selected by
// Type is meaningful. Messages are copied by value into mailboxes.
type Message struct {
	Type Type

	// Src is the id of the sending task, or 0 for interrupt handlers.
	Src uint64

	Timer       TimerArg
	Key         KeyArg
	Layer       LayerArg
	MouseMove   MouseMoveArg
	MouseButton MouseButtonArg
	Active      bool
}

// NewInterruptXHCI returns a notification that the USB host controller
// raised an interrupt.
func NewInterruptXHCI() Message {
	return Message{Type: InterruptXHCI}
}

// NewTimerTimeout returns the message delivered when a timer expires.
func NewTimerTimeout(timeout uint64, value int32) Message {
	return Message{Type: TimerTimeout, Timer: TimerArg{Timeout: timeout, Value: value}}
}

// NewKeyPush returns a key event.
func NewKeyPush(modifier, keycode uint8, ascii byte, press bool) Message {
	return Message{Type: KeyPush, Key: KeyArg{Modifier: modifier, Keycode: keycode, ASCII: ascii, Press: press}}
}

// NewLayerOp returns a request for the compositor to operate on a layer.
func NewLayerOp(src uint64, op LayerOp, layerID uint32, r Rect) Message {
	return Message{Type: Layer, Src: src, Layer: LayerArg{Op: op, LayerID: layerID, Rect: r}}
}

// NewLayerFinish returns the reply sent once a layer operation completes.
func NewLayerFinish() Message {
	return Message{Type: LayerFinish}
}

// NewMouseMove returns a pointer movement event.
func NewMouseMove(x, y, dx, dy int32, buttons uint8) Message {
	return Message{Type: MouseMove, MouseMove: MouseMoveArg{X: x, Y: y, DX: dx, DY: dy, Buttons: buttons}}
}

// NewMouseButton returns a pointer button event.
func NewMouseButton(x, y int32, press bool, button int32) Message {
	return Message{Type: MouseButton, MouseButton: MouseButtonArg{X: x, Y: y, Press: press, Button: button}}
}

// NewWindowActive returns a window activation change.
func NewWindowActive(active bool) Message {
	return Message{Type: WindowActive, Active: active}
}
