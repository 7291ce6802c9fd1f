package platform

import (
	"runtime"
	"unsafe"

	"github.com/andewx/vkframe"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Instance is a Vulkan instance with its enabled layers and optional debug callback.
type Instance struct {
	handle        vk.Instance
	layers        []string
	debugCallback vk.DebugReportCallback
}

// NewInstance creates the instance. vk.SetGetInstanceProcAddr and vk.Init must have run.
func NewInstance(cfg Config) (*Instance, error) {
	actual, err := InstanceExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "query instance extensions")
	}
	wanted := []string{}
	if runtime.GOOS == "darwin" {
		wanted = append(wanted, "VK_KHR_portability_enumeration")
	}
	exts := NewExtensionSet(actual, wanted, cfg.InstanceExtensions)
	if ok, missing := exts.HasRequired(); !ok {
		return nil, errors.Errorf("missing required instance extensions %v", missing)
	}

	var layers []string
	if len(cfg.Layers) > 0 {
		actualLayers, err := ValidationLayers()
		if err != nil {
			return nil, errors.Wrap(err, "query validation layers")
		}
		var missing int
		layers, missing = checkExisting(actualLayers, cfg.Layers)
		if missing > 0 {
			vkframe.Logger().Warn("validation layers missing", "missing", missing)
		}
	}

	var flags vk.InstanceCreateFlags
	if exts.Has("VK_KHR_portability_enumeration") {
		flags = vk.InstanceCreateFlags(0x00000001) // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	enabled := exts.GetExtensions()
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(cfg.APIVersion),
			ApplicationVersion: uint32(cfg.AppVersion),
			PApplicationName:   safeString(cfg.AppName),
			PEngineName:        safeString("vkframe"),
		},
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
		Flags:                   flags,
	}, nil, &instance)
	if err := newError("create instance", ret); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.Wrap(err, "init instance")
	}
	vkframe.Logger().Info("vulkan instance created", "extensions", len(enabled), "layers", len(layers))

	inst := &Instance{handle: instance, layers: layers}
	if cfg.Debug {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReport,
		}, nil, &inst.debugCallback)
		if err := newError("create debug report callback", ret); err != nil {
			vkframe.Logger().Warn("debug report unavailable", "err", err)
		}
	}
	return inst, nil
}

func (i *Instance) Handle() vk.Instance { return i.handle }

// Layers are the validation layers the instance was created with.
func (i *Instance) Layers() []string { return i.layers }

func (i *Instance) Destroy() {
	if i.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.handle, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	if i.handle != nil {
		vk.DestroyInstance(i.handle, nil)
		i.handle = nil
	}
}

// debugReport forwards validation output to the vkframe logger.
func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	log := vkframe.Logger().With("layer", pLayerPrefix, "code", messageCode)
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		log.Warn(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		log.Warn(pMessage, "performance", true)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		log.Debug(pMessage)
	default:
		log.Info(pMessage)
	}
	return vk.Bool32(vk.False)
}
