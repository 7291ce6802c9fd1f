package platform

import "github.com/go-gl/mathgl/mgl32"

// vulkanClip flips Y and maps depth from [-1, 1] to [0, 1].
var vulkanClip = mgl32.Mat4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// VulkanProjection converts a GL-style projection, such as mgl32.Perspective returns,
// to Vulkan clip space: Y points down and depth spans [0, 1].
func VulkanProjection(proj mgl32.Mat4) mgl32.Mat4 {
	return vulkanClip.Mul4(proj)
}

// Perspective is mgl32.Perspective in Vulkan clip space. fovy is in radians.
func Perspective(fovy, aspect, near, far float32) mgl32.Mat4 {
	return VulkanProjection(mgl32.Perspective(fovy, aspect, near, far))
}
