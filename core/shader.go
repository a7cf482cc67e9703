// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	vk "github.com/devblok/vulkan"
)

const shaderSuffix = ".spv"

// NewVulkanShader creates a shader module from a compiled SPIR-V binary.
// The shader name is the file name up to the first dot.
func NewVulkanShader(path string, shaderType ShaderType, device vk.Device) (Shader, error) {
	splitPath := strings.Split(path, "/")
	filename := splitPath[len(splitPath)-1]
	shaderName := strings.Split(filename, ".")[0]

	shaderContents, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return NewVulkanShaderFromBytes(shaderName, shaderContents, shaderType, device)
}

// NewVulkanShaderFromBytes creates a shader module from SPIR-V bytes
// already held in memory, for shaders embedded into the binary.
func NewVulkanShaderFromBytes(name string, contents []byte, shaderType ShaderType, device vk.Device) (Shader, error) {
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(contents)),
		PCode:    SliceUint32(contents),
	}

	var shader vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(device, &smci, nil, &shader)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(type %d): %s", shaderType, err.Error())
	}

	return &VulkanShader{
		shader:     shader,
		shaderType: shaderType,
		name:       name,
		device:     device,
	}, nil
}

// VulkanShader is a Vulkan specific shader
type VulkanShader struct {
	name       string
	shaderType ShaderType
	device     vk.Device
	shader     vk.ShaderModule
}

// Type implements interface
func (v VulkanShader) Type() ShaderType {
	return v.shaderType
}

// ShaderModule is an accssor to the internal vk.ShaderModule
func (v VulkanShader) ShaderModule() interface{} {
	return v.shader
}

// Name implements interface
func (v VulkanShader) Name() string {
	return v.name
}

// Destroy implements interface
func (v VulkanShader) Destroy() {
	vk.DestroyShaderModule(v.device, v.shader, nil)
}

// parseShaderFileName splits a compiled shader file name into the
// shader name and its pipeline stage. The name must hold exactly two
// dots, the first node is the shader name, the second the stage, and
// only compiled shaders carry the .spv extension.
func parseShaderFileName(name string) (string, ShaderType, bool) {
	if !strings.HasSuffix(name, shaderSuffix) {
		return "", UnknownShaderType, false
	}
	nodes := strings.Split(strings.TrimSuffix(name, shaderSuffix), ".")
	if len(nodes) != 2 {
		return "", UnknownShaderType, false
	}

	switch nodes[1] {
	case "vert":
		return nodes[0], VertexShaderType, true
	case "frag":
		return nodes[0], FragmentShaderType, true
	}
	return "", UnknownShaderType, false
}

// loadShaderFilesFromDirectory gets the list of files that are compiled
// shaders. All shader files found will be loaded.
func loadShaderFilesFromDirectory(dir string) ([]string, []ShaderType, error) {
	var (
		shaders     []string
		shaderTypes []ShaderType
	)
	if err := filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if _, shaderType, ok := parseShaderFileName(f.Name()); ok {
			shaderTypes = append(shaderTypes, shaderType)
			shaders = append(shaders, path)
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return shaders, shaderTypes, nil
}

// buildShaderSets groups loaded shaders by name, in order of first
// appearance. Every set is created with the default uniform and sampler
// bindings. A vertex shader without its fragment counterpart, or the
// other way around, is an error.
func buildShaderSets(shaders []Shader) ([]*ShaderSet, error) {
	byName := make(map[string]*ShaderSet)
	var order []string
	for _, shader := range shaders {
		set, ok := byName[shader.Name()]
		if !ok {
			set = &ShaderSet{
				Name:     shader.Name(),
				Bindings: DefaultBindings(),
			}
			byName[shader.Name()] = set
			order = append(order, shader.Name())
		}

		switch shader.Type() {
		case VertexShaderType:
			set.Vertex = shader
		case FragmentShaderType:
			set.Fragment = shader
		}
	}

	sets := make([]*ShaderSet, 0, len(order))
	for _, name := range order {
		set := byName[name]
		if set.Vertex == nil || set.Fragment == nil {
			return nil, fmt.Errorf("shader set %q is missing a stage", name)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// LoadShaderSets walks the directory for compiled .vert.spv/.frag.spv
// pairs and groups them by name. A directory without a single complete
// set is an error, the renderer has nothing to build pipelines from.
func LoadShaderSets(device vk.Device, dir string) ([]*ShaderSet, error) {
	files, types, err := loadShaderFilesFromDirectory(dir)
	if err != nil {
		return nil, err
	}

	shaders := make([]Shader, 0, len(files))
	for idx, file := range files {
		shader, err := NewVulkanShader(file, types[idx], device)
		if err != nil {
			return nil, err
		}
		shaders = append(shaders, shader)
	}

	sets, err := buildShaderSets(shaders)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("no shader sets found in %q", dir)
	}
	return sets, nil
}

// LoadShaderSetsFromSources groups compiled SPIR-V binaries held in
// memory into shader sets, keyed by their original file names. Used for
// shaders embedded into the binary.
func LoadShaderSetsFromSources(device vk.Device, sources map[string][]byte) ([]*ShaderSet, error) {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var shaders []Shader
	for _, name := range names {
		shaderName, shaderType, ok := parseShaderFileName(name)
		if !ok {
			continue
		}
		shader, err := NewVulkanShaderFromBytes(shaderName, sources[name], shaderType, device)
		if err != nil {
			return nil, err
		}
		shaders = append(shaders, shader)
	}

	sets, err := buildShaderSets(shaders)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, errors.New("no shader sets in embedded sources")
	}
	return sets, nil
}

// ShaderSet pairs the vertex and fragment stages of a program together
// with the descriptor bindings the program declares.
type ShaderSet struct {
	Name     string
	Vertex   Shader
	Fragment Shader
	Bindings []BindingDecl
}

// Destroy implements interface
func (s *ShaderSet) Destroy() {
	if s.Vertex != nil {
		s.Vertex.Destroy()
	}
	if s.Fragment != nil {
		s.Fragment.Destroy()
	}
}
