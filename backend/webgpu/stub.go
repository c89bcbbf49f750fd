//go:build !webgpu

package webgpu

import (
	"fmt"

	"github.com/gogpu/gpucompute/backend"
)

// init registers a factory that always fails when the webgpu tag is not
// set, so selection falls through to the next backend.
func init() {
	backend.Register(backend.BackendWebGPU, func() (backend.Device, error) {
		return nil, fmt.Errorf("%w: webgpu: built without the webgpu tag", backend.ErrBackendNotAvailable)
	})
}
