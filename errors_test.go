package vkframe

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func TestNewError(t *testing.T) {
	if err := NewError("queue submit", vk.Success); err != nil {
		t.Fatalf("success produced %v", err)
	}
	err := errors.Wrap(NewError("queue present", vk.ErrorOutOfDate), "frame 3")
	if !IsOutOfDate(err) {
		t.Error("wrapped out-of-date not recognized")
	}
	if !strings.Contains(err.Error(), "queue present") {
		t.Errorf("message %q lacks the operation", err)
	}
	var de *DeviceError
	if !errors.As(err, &de) || de.Op != "queue present" {
		t.Error("DeviceError not reachable through the wrap")
	}
}

func TestIsOutOfDate(t *testing.T) {
	for _, err := range []error{
		nil,
		ErrPoolExhausted,
		NewError("acquire", vk.Suboptimal),
		NewError("acquire", vk.ErrorDeviceLost),
	} {
		if IsOutOfDate(err) {
			t.Errorf("IsOutOfDate(%v) = true", err)
		}
	}
}

func TestBufferingMode(t *testing.T) {
	for m, want := range map[BufferingMode]bool{1: false, 2: true, 3: true, 4: true, 5: false} {
		if m.Valid() != want {
			t.Errorf("BufferingMode(%d).Valid() = %v", m, !want)
		}
	}
	if TripleBuffering.String() != "triple" {
		t.Errorf("TripleBuffering.String() = %q", TripleBuffering.String())
	}
}
