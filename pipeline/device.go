package pipeline

import (
	"os"
	"os/exec"
)

const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// nvidiaVisible reports whether an NVIDIA driver is present on this host.
var nvidiaVisible = func() bool {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// ResolveDevice maps "auto" to cuda when a GPU is visible and cpu otherwise.
// Explicit choices are returned unchanged.
func ResolveDevice(requested string) string {
	if requested != "" && requested != DeviceAuto {
		return requested
	}
	if nvidiaVisible() {
		return DeviceCUDA
	}
	return DeviceCPU
}
