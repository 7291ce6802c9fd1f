package platform

import (
	"github.com/andewx/vkframe"
	"github.com/andewx/vkframe/internal/vkext"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// VK_DESCRIPTOR_SET_LAYOUT_CREATE_PUSH_DESCRIPTOR_BIT_KHR
const descriptorSetLayoutPushDescriptor = vk.DescriptorSetLayoutCreateFlags(0x00000001)

// PipelineBuilder collects the state of a graphics pipeline that renders with dynamic
// rendering into one color attachment. Viewport and scissor are always dynamic.
type PipelineBuilder struct {
	device  *VulkanDevice
	program *ShaderProgram

	colorFormat vk.Format
	depth       bool

	topology  vk.PrimitiveTopology
	cullMode  vk.CullModeFlagBits
	frontFace vk.FrontFace

	pushStages vk.ShaderStageFlags
	pushSize   uint32
	bindings   []vk.DescriptorSetLayoutBinding
}

func NewPipelineBuilder(device *VulkanDevice, program *ShaderProgram, colorFormat vk.Format) *PipelineBuilder {
	return &PipelineBuilder{
		device:      device,
		program:     program,
		colorFormat: colorFormat,
		topology:    vk.PrimitiveTopologyTriangleList,
		cullMode:    vk.CullModeNone,
		frontFace:   vk.FrontFaceClockwise,
	}
}

// WithDepth enables depth testing and writing against the device depth format.
func (b *PipelineBuilder) WithDepth(enabled bool) *PipelineBuilder {
	b.depth = enabled
	return b
}

func (b *PipelineBuilder) WithTopology(t vk.PrimitiveTopology) *PipelineBuilder {
	b.topology = t
	return b
}

func (b *PipelineBuilder) WithCulling(mode vk.CullModeFlagBits, front vk.FrontFace) *PipelineBuilder {
	b.cullMode = mode
	b.frontFace = front
	return b
}

// WithPushConstants declares a push constant range of size bytes at offset 0.
func (b *PipelineBuilder) WithPushConstants(stages vk.ShaderStageFlags, size uint32) *PipelineBuilder {
	b.pushStages = stages
	b.pushSize = size
	return b
}

// WithPushDescriptors declares set 0 as a push descriptor set with the given bindings.
func (b *PipelineBuilder) WithPushDescriptors(bindings ...vk.DescriptorSetLayoutBinding) *PipelineBuilder {
	b.bindings = append(b.bindings, bindings...)
	return b
}

func (b *PipelineBuilder) Build() (p *GraphicsPipeline, err error) {
	dev := b.device.Handle()
	p = &GraphicsPipeline{device: b.device, depth: b.depth}
	defer func() {
		if err != nil {
			p.Destroy()
			p = nil
		}
	}()

	var setLayouts []vk.DescriptorSetLayout
	if len(b.bindings) > 0 {
		if !vkext.HasPushDescriptors() {
			return p, errors.New("push descriptor bindings declared but the device lacks VK_KHR_push_descriptor")
		}
		ret := vk.CreateDescriptorSetLayout(dev, &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			Flags:        descriptorSetLayoutPushDescriptor,
			BindingCount: uint32(len(b.bindings)),
			PBindings:    b.bindings,
		}, nil, &p.setLayout)
		if err := newError("create descriptor set layout", ret); err != nil {
			return p, err
		}
		setLayouts = []vk.DescriptorSetLayout{p.setLayout}
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if b.pushSize > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: b.pushStages,
			Size:       b.pushSize,
		}}
	}
	ret := vk.CreatePipelineLayout(dev, &layoutInfo, nil, &p.layout)
	if err := newError("create pipeline layout", ret); err != nil {
		return p, err
	}

	depthFormat, stencilFormat := vk.FormatUndefined, vk.FormatUndefined
	if b.depth {
		depthFormat = b.device.DepthFormat()
		if vkframe.HasStencil(depthFormat) {
			stencilFormat = depthFormat
		}
	}
	rendering, freeRendering := vkext.PipelineRendering([]vk.Format{b.colorFormat}, depthFormat, stencilFormat)
	defer freeRendering()

	dynamic := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	depthState := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if b.depth {
		depthState.DepthTestEnable = vk.True
		depthState.DepthWriteEnable = vk.True
		depthState.DepthCompareOp = vk.CompareOpLessOrEqual
		depthState.MaxDepthBounds = 1.0
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		PNext:      rendering,
		StageCount: 2,
		PStages:    b.program.Stages(),
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: b.topology,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(b.cullMode),
			FrontFace:   b.frontFace,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
			MinSampleShading:     1.0,
		},
		PDepthStencilState: &depthState,
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
					vk.ColorComponentBBit | vk.ColorComponentABit),
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout: p.layout,
	}

	pipelines := make([]vk.Pipeline, 1)
	ret = vk.CreateGraphicsPipelines(dev, nil, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)
	if err := newError("create graphics pipeline", ret); err != nil {
		return p, err
	}
	p.handle = pipelines[0]
	vkframe.Logger().Debug("graphics pipeline created",
		"color_format", b.colorFormat, "depth", b.depth, "push_constants", b.pushSize, "push_bindings", len(b.bindings))
	return p, nil
}

// GraphicsPipeline implements vkframe.Pipeline.
type GraphicsPipeline struct {
	device    *VulkanDevice
	handle    vk.Pipeline
	layout    vk.PipelineLayout
	setLayout vk.DescriptorSetLayout
	depth     bool
}

var _ vkframe.Pipeline = (*GraphicsPipeline)(nil)

func (p *GraphicsPipeline) DepthTestingEnabled() bool { return p.depth }
func (p *GraphicsPipeline) Handle() vk.Pipeline       { return p.handle }
func (p *GraphicsPipeline) Layout() vk.PipelineLayout { return p.layout }
func (p *GraphicsPipeline) GraphicsQueue() vk.Queue   { return p.device.GraphicsQueue() }
func (p *GraphicsPipeline) PresentQueue() vk.Queue    { return p.device.PresentQueue() }

// SetLayout is the push descriptor set layout, or vk.NullDescriptorSetLayout.
func (p *GraphicsPipeline) SetLayout() vk.DescriptorSetLayout { return p.setLayout }

func (p *GraphicsPipeline) Destroy() {
	dev := p.device.Handle()
	if p.handle != vk.NullPipeline {
		vk.DestroyPipeline(dev, p.handle, nil)
		p.handle = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
	if p.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, p.setLayout, nil)
		p.setLayout = vk.NullDescriptorSetLayout
	}
}
