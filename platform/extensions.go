package platform

import (
	vk "github.com/vulkan-go/vulkan"
)

// InstanceExtensions gets a list of instance extensions available on the platform.
func InstanceExtensions() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	orPanic(newError("enumerate instance extensions", ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	orPanic(newError("enumerate instance extensions", ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// DeviceExtensions gets a list of extensions available on the provided physical device.
func DeviceExtensions(gpu vk.PhysicalDevice) (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)
	orPanic(newError("enumerate device extensions", ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)
	orPanic(newError("enumerate device extensions", ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// ValidationLayers gets a list of validation layers available on the platform.
func ValidationLayers() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	orPanic(newError("enumerate layers", ret))
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	orPanic(newError("enumerate layers", ret))
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, err
}

// ExtensionSet merges required and wanted names against what the loader or GPU reports.
// Required names are always enabled and make creation fail when absent; wanted names
// are enabled only when available.
type ExtensionSet struct {
	wanted   []string
	required []string
	actual   []string
}

func NewExtensionSet(actual, wanted, required []string) *ExtensionSet {
	return &ExtensionSet{wanted: wanted, required: required, actual: actual}
}

func missingFrom(actual, names []string) []string {
	have := make(map[string]bool, len(actual))
	for _, a := range actual {
		have[safeString(a)] = true
	}
	missing := []string{}
	for _, n := range names {
		if !have[safeString(n)] {
			missing = append(missing, n)
		}
	}
	return missing
}

func (e *ExtensionSet) HasRequired() (bool, []string) {
	missing := missingFrom(e.actual, e.required)
	return len(missing) == 0, missing
}

func (e *ExtensionSet) HasWanted() (bool, []string) {
	missing := missingFrom(e.actual, e.wanted)
	return len(missing) == 0, missing
}

// Has reports whether name is available.
func (e *ExtensionSet) Has(name string) bool {
	return len(missingFrom(e.actual, []string{name})) == 0
}

// GetExtensions lists the names to enable: every required one plus the available wanted
// ones, null-terminated and without duplicates.
func (e *ExtensionSet) GetExtensions() []string {
	seen := map[string]bool{}
	implement := []string{}
	for _, req := range e.required {
		if n := safeString(req); !seen[n] {
			seen[n] = true
			implement = append(implement, n)
		}
	}
	available, _ := checkExisting(e.actual, e.wanted)
	for _, n := range available {
		if !seen[n] {
			seen[n] = true
			implement = append(implement, n)
		}
	}
	return implement
}
