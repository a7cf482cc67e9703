// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"io/ioutil"
	"os"
	"testing"
)

func TestParseShaderFileName(t *testing.T) {
	cases := []struct {
		file       string
		name       string
		shaderType ShaderType
		ok         bool
	}{
		{"default.vert.spv", "default", VertexShaderType, true},
		{"default.frag.spv", "default", FragmentShaderType, true},
		{"skybox.frag.spv", "skybox", FragmentShaderType, true},
		{"default.vert", "", UnknownShaderType, false},
		{"default.comp.spv", "", UnknownShaderType, false},
		{"too.many.vert.spv", "", UnknownShaderType, false},
		{"texture.png", "", UnknownShaderType, false},
	}

	for _, c := range cases {
		name, shaderType, ok := parseShaderFileName(c.file)
		if name != c.name || shaderType != c.shaderType || ok != c.ok {
			t.Errorf("parseShaderFileName(%q) = (%q, %d, %t), want (%q, %d, %t)",
				c.file, name, shaderType, ok, c.name, c.shaderType, c.ok)
		}
	}
}

func TestLoadShaderSetsEmptyDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "shaders")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	if _, err := LoadShaderSets(nil, dir); err == nil {
		t.Error("expected an error for a directory without shader sets")
	}
}

func TestLoadShaderSetsFromSourcesEmpty(t *testing.T) {
	if _, err := LoadShaderSetsFromSources(nil, nil); err == nil {
		t.Error("expected an error for empty embedded sources")
	}

	sources := map[string][]byte{"texture.png": {0xde, 0xad}}
	if _, err := LoadShaderSetsFromSources(nil, sources); err == nil {
		t.Error("expected an error when no source is a compiled shader")
	}
}

func TestBuildShaderSetsMissingStage(t *testing.T) {
	shaders := []Shader{
		&VulkanShader{name: "default", shaderType: VertexShaderType},
	}
	if _, err := buildShaderSets(shaders); err == nil {
		t.Error("expected an error for a vertex shader without its fragment stage")
	}
}
