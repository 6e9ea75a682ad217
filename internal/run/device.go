package run

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Device describes the compute target of a run. Training is CPU only;
// recording the device keeps reports comparable across machines.
type Device struct {
	Kind     string   `json:"kind"`
	Brand    string   `json:"brand,omitempty"`
	Cores    int      `json:"cores"`
	Threads  int      `json:"threads"`
	Features []string `json:"features,omitempty"`
}

var vectorFeatures = []cpuid.FeatureID{
	cpuid.SSE42,
	cpuid.AVX,
	cpuid.AVX2,
	cpuid.AVX512F,
	cpuid.FMA3,
}

func DetectDevice() Device {
	d := Device{
		Kind:    "cpu",
		Brand:   strings.TrimSpace(cpuid.CPU.BrandName),
		Cores:   cpuid.CPU.PhysicalCores,
		Threads: cpuid.CPU.LogicalCores,
	}
	if d.Cores <= 0 {
		d.Cores = runtime.NumCPU()
	}
	if d.Threads <= 0 {
		d.Threads = runtime.NumCPU()
	}
	for _, feature := range vectorFeatures {
		if cpuid.CPU.Supports(feature) {
			d.Features = append(d.Features, strings.ToLower(feature.String()))
		}
	}
	return d
}

func (d Device) String() string {
	s := fmt.Sprintf("%s cores=%d threads=%d", d.Kind, d.Cores, d.Threads)
	if d.Brand != "" {
		s += fmt.Sprintf(" brand=%q", d.Brand)
	}
	if len(d.Features) > 0 {
		s += " features=" + strings.Join(d.Features, ",")
	}
	return s
}
