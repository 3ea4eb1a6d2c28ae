// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package result

// Kernel results.
var (
	KernelInvalidSize      = Make(ModuleKernel, 101)
	KernelInvalidAddress   = Make(ModuleKernel, 102)
	KernelOutOfResource    = Make(ModuleKernel, 103)
	KernelOutOfHandles     = Make(ModuleKernel, 105)
	KernelInvalidHandle    = Make(ModuleKernel, 114)
	KernelTimedOut         = Make(ModuleKernel, 117)
	KernelCancelled        = Make(ModuleKernel, 118)
	KernelInvalidEnumValue = Make(ModuleKernel, 120)
	KernelSessionClosed    = Make(ModuleKernel, 123)
	KernelNotFound         = Make(ModuleKernel, 125)
)

// HIPC results, produced when a message cannot be translated.
var (
	HIPCInvalidMessage    = Make(ModuleHIPC, 1)
	HIPCUnknownCommand    = Make(ModuleHIPC, 221)
	HIPCInvalidCommandBuf = Make(ModuleHIPC, 402)
)

// Service manager results.
var (
	SMOutOfProcesses     = Make(ModuleSM, 1)
	SMInvalidClient      = Make(ModuleSM, 2)
	SMOutOfSessions      = Make(ModuleSM, 3)
	SMAlreadyRegistered  = Make(ModuleSM, 4)
	SMOutOfServices      = Make(ModuleSM, 5)
	SMInvalidServiceName = Make(ModuleSM, 6)
	SMNotRegistered      = Make(ModuleSM, 7)
	SMNotAllowed         = Make(ModuleSM, 8)
)

// Library results. These never cross the wire; they report failures
// detected on the client side before or after a request.
var (
	ModuleNotInitialized    = Make(ModuleLibrary, 1)
	GPUBufferUnaligned      = Make(ModuleLibrary, 2)
	GPUInvalidAlignment     = Make(ModuleLibrary, 3)
	NVInitializeFailed      = Make(ModuleLibrary, 4)
	NVOpenFailed            = Make(ModuleLibrary, 5)
	NVIoctlFailed           = Make(ModuleLibrary, 6)
	NVCloseFailed           = Make(ModuleLibrary, 7)
	IPCInvalidResponseMagic = Make(ModuleLibrary, 8)
	IPCUnexpectedRawSize    = Make(ModuleLibrary, 9)
	IPCUnexpectedHandles    = Make(ModuleLibrary, 10)
	IPCTooManyDescriptors   = Make(ModuleLibrary, 11)
	IPCUnsupportedBuffer    = Make(ModuleLibrary, 12)
	IPCMessageTooLarge      = Make(ModuleLibrary, 13)
	ServiceNameTooLong      = Make(ModuleLibrary, 14)
	GPUBufferDestroyed      = Make(ModuleLibrary, 15)
)

var moduleNames = map[uint32]string{
	ModuleKernel:  "kernel",
	ModuleHIPC:    "hipc",
	ModuleSM:      "sm",
	ModuleLibrary: "hzn",
}

var names = map[Code]string{
	KernelInvalidSize:      "kernel: invalid size",
	KernelInvalidAddress:   "kernel: invalid address",
	KernelOutOfResource:    "kernel: out of resource",
	KernelOutOfHandles:     "kernel: out of handles",
	KernelInvalidHandle:    "kernel: invalid handle",
	KernelTimedOut:         "kernel: timed out",
	KernelCancelled:        "kernel: cancelled",
	KernelInvalidEnumValue: "kernel: invalid enum value",
	KernelSessionClosed:    "kernel: session closed",
	KernelNotFound:         "kernel: not found",

	HIPCInvalidMessage:    "hipc: invalid message",
	HIPCUnknownCommand:    "hipc: unknown command",
	HIPCInvalidCommandBuf: "hipc: invalid command buffer",

	SMOutOfProcesses:     "sm: out of processes",
	SMInvalidClient:      "sm: invalid client",
	SMOutOfSessions:      "sm: out of sessions",
	SMAlreadyRegistered:  "sm: service already registered",
	SMOutOfServices:      "sm: out of services",
	SMInvalidServiceName: "sm: invalid service name",
	SMNotRegistered:      "sm: service not registered",
	SMNotAllowed:         "sm: not allowed",

	ModuleNotInitialized:    "module not initialized",
	GPUBufferUnaligned:      "gpu: buffer address is not aligned",
	GPUInvalidAlignment:     "gpu: invalid buffer alignment",
	NVInitializeFailed:      "nv: driver initialization failed",
	NVOpenFailed:            "nv: open failed",
	NVIoctlFailed:           "nv: ioctl failed",
	NVCloseFailed:           "nv: close failed",
	IPCInvalidResponseMagic: "ipc: invalid response magic",
	IPCUnexpectedRawSize:    "ipc: unexpected raw data size",
	IPCUnexpectedHandles:    "ipc: unexpected handle count",
	IPCTooManyDescriptors:   "ipc: too many descriptors",
	IPCUnsupportedBuffer:    "ipc: unsupported buffer type",
	IPCMessageTooLarge:      "ipc: message too large",
	ServiceNameTooLong:      "sm: service name longer than 8 bytes",
	GPUBufferDestroyed:      "gpu: buffer already destroyed",
}
