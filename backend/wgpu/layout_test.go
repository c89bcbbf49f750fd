package wgpu

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

func TestResourceEntries(t *testing.T) {
	d := shader.NewBuilder("Entries").
		ConstantBuffer().
		ReadOnlyBuffer().
		ReadWriteBuffer().
		ReadOnlyTexture().
		ReadWriteTexture().
		Source("s").
		MustBuild()

	entries, err := resourceEntries(d.Ranges)
	if err != nil {
		t.Fatalf("resourceEntries() error = %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("len(entries) = %d, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Binding != uint32(i) {
			t.Errorf("entries[%d].Binding = %d", i, e.Binding)
		}
		if e.Visibility != gputypes.ShaderStageCompute {
			t.Errorf("entries[%d] not compute visible", i)
		}
	}
	if entries[0].Buffer == nil || entries[0].Buffer.Type != gputypes.BufferBindingTypeUniform {
		t.Errorf("slot 0 = %+v, want uniform buffer", entries[0])
	}
	if entries[1].Buffer == nil || entries[1].Buffer.Type != gputypes.BufferBindingTypeReadOnlyStorage {
		t.Errorf("slot 1 = %+v, want read-only storage", entries[1])
	}
	if entries[2].Buffer == nil || entries[2].Buffer.Type != gputypes.BufferBindingTypeStorage {
		t.Errorf("slot 2 = %+v, want storage", entries[2])
	}
	if entries[3].Texture == nil {
		t.Errorf("slot 3 = %+v, want sampled texture", entries[3])
	}
	if entries[4].StorageTexture == nil || entries[4].StorageTexture.Format != storageFormat {
		t.Errorf("slot 4 = %+v, want storage texture", entries[4])
	}
}

func TestResourceEntriesRejectsTextureConstant(t *testing.T) {
	ranges := []shader.ResourceRange{{Kind: shader.KindConstant, Resource: shader.ResourceTexture2D, Slot: 0, Count: 1}}
	if _, err := resourceEntries(ranges); err == nil {
		t.Fatal("resourceEntries() = nil error for texture constant range")
	}
}

func TestConstantEntries(t *testing.T) {
	if got := constantEntries(false); len(got) != 1 || got[0].Binding != constantBinding {
		t.Errorf("constantEntries(false) = %+v", got)
	}
	got := constantEntries(true)
	if len(got) != 2 || got[1].Binding != samplerBinding || got[1].Sampler == nil {
		t.Errorf("constantEntries(true) = %+v", got)
	}
}

func TestUniformSize(t *testing.T) {
	tests := []struct {
		words uint32
		want  uint64
	}{
		{0, 0},
		{1, 16},
		{3, 16},
		{4, 16},
		{5, 32},
		{11, 48},
	}
	for _, tt := range tests {
		if got := uniformSize(tt.words); got != tt.want {
			t.Errorf("uniformSize(%d) = %d, want %d", tt.words, got, tt.want)
		}
	}
}

func TestAlignment(t *testing.T) {
	if got := align4(5); got != 8 {
		t.Errorf("align4(5) = %d, want 8", got)
	}
	if got := alignedBytesPerRow(10, 4); got != 256 {
		t.Errorf("alignedBytesPerRow(10, 4) = %d, want 256", got)
	}
	if got := alignedBytesPerRow(65, 4); got != 512 {
		t.Errorf("alignedBytesPerRow(65, 4) = %d, want 512", got)
	}
}

func TestUnpackRows(t *testing.T) {
	src := []byte{1, 2, 0, 0, 3, 4, 0, 0}
	dst := make([]byte, 4)
	unpackRows(dst, src, 2, 4, 2)
	if string(dst) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("unpackRows = %v", dst)
	}
}

func TestSelectAdapter(t *testing.T) {
	adapter := func(name string, typ gputypes.DeviceType) hal.ExposedAdapter {
		var a hal.ExposedAdapter
		a.Info.Name = name
		a.Info.DeviceType = typ
		return a
	}
	const unknownType = gputypes.DeviceType(99)
	tests := []struct {
		name           string
		adapters       []hal.ExposedAdapter
		preferDiscrete bool
		want           string
	}{
		{"discrete first", []hal.ExposedAdapter{adapter("d", gputypes.DeviceTypeDiscreteGPU), adapter("i", gputypes.DeviceTypeIntegratedGPU)}, false, "d"},
		{"integrated first", []hal.ExposedAdapter{adapter("i", gputypes.DeviceTypeIntegratedGPU), adapter("d", gputypes.DeviceTypeDiscreteGPU)}, false, "i"},
		{"prefer discrete", []hal.ExposedAdapter{adapter("i", gputypes.DeviceTypeIntegratedGPU), adapter("d", gputypes.DeviceTypeDiscreteGPU)}, true, "d"},
		{"other fallback", []hal.ExposedAdapter{adapter("c", unknownType)}, false, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectAdapter(tt.adapters, tt.preferDiscrete); got.Info.Name != tt.want {
				t.Errorf("selectAdapter() = %q, want %q", got.Info.Name, tt.want)
			}
		})
	}
}

func TestBindGroupKey(t *testing.T) {
	k := makeBindGroupKey(3, []uint64{7, 12, 1})
	if k.resources != "7,12,1" {
		t.Errorf("resources = %q", k.resources)
	}
	for _, id := range []uint64{7, 12, 1} {
		if !k.references(id) {
			t.Errorf("references(%d) = false", id)
		}
	}
	if k.references(2) {
		t.Error("references(2) = true, want false for prefix of 12")
	}
	if makeBindGroupKey(3, []uint64{7, 12, 1}) != k {
		t.Error("equal inputs produced different keys")
	}
}

func TestStateUsage(t *testing.T) {
	if stateUsage(backend.StateUnorderedAccess) != gputypes.TextureUsageStorageBinding {
		t.Error("UnorderedAccess should map to storage binding")
	}
	if stateUsage(backend.StateShaderRead) != gputypes.TextureUsageTextureBinding {
		t.Error("ShaderRead should map to texture binding")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	if c.Backend != gputypes.BackendVulkan || c.Timeout != DefaultTimeout || c.BindGroupCacheSize != DefaultBindGroupCacheSize {
		t.Errorf("applyDefaults() = %+v", c)
	}
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendWGPU) {
		t.Error("wgpu backend not registered")
	}
}

func TestPackConstants(t *testing.T) {
	data := packConstants([]uint32{0x04030201, 9}, uniformSize(2))
	if len(data) != 16 {
		t.Fatalf("len = %d, want 16", len(data))
	}
	want := []byte{1, 2, 3, 4, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if string(data) != string(want) {
		t.Errorf("packConstants() = % x, want % x", data, want)
	}
}
