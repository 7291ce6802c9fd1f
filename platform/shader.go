package platform

import (
	"os"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// LoadShaderModule reads a SPIR-V file and creates a shader module from it.
func LoadShaderModule(device *VulkanDevice, path string) (vk.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return vk.NullShaderModule, errors.Wrapf(err, "read shader %s", path)
	}
	module, err := NewShaderModule(device, code)
	return module, errors.Wrapf(err, "shader %s", path)
}

// NewShaderModule creates a shader module from SPIR-V code.
func NewShaderModule(device *VulkanDevice, code []byte) (vk.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return vk.NullShaderModule, errors.Errorf("SPIR-V size %d is not a positive multiple of 4", len(code))
	}
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(device.Handle(), &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}, nil, &module)
	if err := newError("create shader module", ret); err != nil {
		return vk.NullShaderModule, err
	}
	return module, nil
}

// ShaderProgram is a vertex and fragment shader pair, both with entry point main.
type ShaderProgram struct {
	device   *VulkanDevice
	Vertex   vk.ShaderModule
	Fragment vk.ShaderModule
}

func NewShaderProgram(device *VulkanDevice, vertexPath, fragmentPath string) (*ShaderProgram, error) {
	vert, err := LoadShaderModule(device, vertexPath)
	if err != nil {
		return nil, err
	}
	frag, err := LoadShaderModule(device, fragmentPath)
	if err != nil {
		vk.DestroyShaderModule(device.Handle(), vert, nil)
		return nil, err
	}
	return &ShaderProgram{device: device, Vertex: vert, Fragment: frag}, nil
}

// Stages describes the program as pipeline shader stages.
func (p *ShaderProgram) Stages() []vk.PipelineShaderStageCreateInfo {
	return []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: p.Vertex,
		PName:  safeString("main"),
	}, {
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFragmentBit,
		Module: p.Fragment,
		PName:  safeString("main"),
	}}
}

// Destroy releases both modules. Pipelines built from the program stay valid.
func (p *ShaderProgram) Destroy() {
	if p.Vertex != vk.NullShaderModule {
		vk.DestroyShaderModule(p.device.Handle(), p.Vertex, nil)
		p.Vertex = vk.NullShaderModule
	}
	if p.Fragment != vk.NullShaderModule {
		vk.DestroyShaderModule(p.device.Handle(), p.Fragment, nil)
		p.Fragment = vk.NullShaderModule
	}
}
