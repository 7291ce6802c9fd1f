package vkframe

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var (
	// ErrPoolExhausted is returned when a lease finds no free command buffer.
	ErrPoolExhausted = errors.New("command pool exhausted")
	// ErrInvalidHandle is returned when a lease is returned with a slot index the pool does not own.
	ErrInvalidHandle = errors.New("invalid command buffer lease")
	// ErrPoolInUse is returned when destroying a pool that still has outstanding leases.
	ErrPoolInUse = errors.New("command pool has outstanding leases")
	// ErrTargetNotSet is returned by an image renderer with no render target.
	ErrTargetNotSet = errors.New("render target not set")
	// ErrNotRecording is returned when BeginRecord or EndRecord receive a command buffer
	// the renderer is not currently recording.
	ErrNotRecording = errors.New("command buffer is not being recorded by this renderer")
	// ErrUnbalancedRecord is returned when BeginRecord and EndRecord do not pair up within a cycle.
	ErrUnbalancedRecord = errors.New("unbalanced BeginRecord/EndRecord")
	// ErrRendererFailed is returned by every cycle after a swapchain renderer cycle failed.
	ErrRendererFailed = errors.New("swapchain renderer failed")
)

// DeviceError is a non-success Vulkan result returned by the operation Op.
type DeviceError struct {
	Op     string
	Result vk.Result
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: vulkan error: %s (%d)", e.Op, vk.Error(e.Result).Error(), e.Result)
}

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError wraps a non-success result into a *DeviceError carrying a stack trace.
// It returns nil for vk.Success.
func NewError(op string, ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	return errors.WithStack(&DeviceError{Op: op, Result: ret})
}

// IsOutOfDate reports whether err carries a result that only requires the surface to be rebuilt.
func IsOutOfDate(err error) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Result == vk.ErrorOutOfDate
	}
	return false
}

// Fatal runs the finalizers, logs err and exits the process. It does nothing when err is nil.
func Fatal(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	Logger().Error("fatal", "err", fmt.Sprintf("%+v", err))
	os.Exit(1)
}
