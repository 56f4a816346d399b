// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gpu

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLib abstracts the NVML library functions we use, for testing.
type nvmlLib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (nvmlDevice, nvml.Return)
	ErrorString(ret nvml.Return) string
}

// nvmlDevice abstracts the operations on an NVML device handle.
type nvmlDevice interface {
	GetSupportedMemoryClocks() ([]uint32, nvml.Return)
	GetSupportedGraphicsClocks(memClockMHz int) ([]uint32, nvml.Return)
	GetDefaultApplicationsClock(clock nvml.ClockType) (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetClockInfo(clock nvml.ClockType) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	SetApplicationsClocks(memClockMHz, graphicsClockMHz uint32) nvml.Return
}

// realNvmlLib calls the actual NVML library.
type realNvmlLib struct{}

// realDevice wraps an actual nvml.Device.
type realDevice struct {
	device nvml.Device
}

func (*realNvmlLib) Init() nvml.Return {
	return nvml.Init()
}

func (*realNvmlLib) Shutdown() nvml.Return {
	return nvml.Shutdown()
}

func (*realNvmlLib) DeviceGetCount() (int, nvml.Return) {
	return nvml.DeviceGetCount()
}

func (*realNvmlLib) DeviceGetHandleByIndex(index int) (nvmlDevice, nvml.Return) {
	handle, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return &realDevice{device: handle}, ret
}

func (*realNvmlLib) ErrorString(ret nvml.Return) string {
	return nvml.ErrorString(ret)
}

func (d *realDevice) GetSupportedMemoryClocks() ([]uint32, nvml.Return) {
	return d.device.GetSupportedMemoryClocks()
}

func (d *realDevice) GetSupportedGraphicsClocks(memClockMHz int) ([]uint32, nvml.Return) {
	return d.device.GetSupportedGraphicsClocks(memClockMHz)
}

func (d *realDevice) GetDefaultApplicationsClock(clock nvml.ClockType) (uint32, nvml.Return) {
	return d.device.GetDefaultApplicationsClock(clock)
}

func (d *realDevice) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return d.device.GetUtilizationRates()
}

func (d *realDevice) GetClockInfo(clock nvml.ClockType) (uint32, nvml.Return) {
	return d.device.GetClockInfo(clock)
}

func (d *realDevice) GetPowerUsage() (uint32, nvml.Return) {
	return d.device.GetPowerUsage()
}

func (d *realDevice) SetApplicationsClocks(memClockMHz, graphicsClockMHz uint32) nvml.Return {
	return d.device.SetApplicationsClocks(memClockMHz, graphicsClockMHz)
}
