// Package serialization writes and reads model state in SafeTensors format.
//
// FlexNAS exports searched and integerized networks as SafeTensors files so
// they can be consumed by other toolchains:
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw little-endian bytes, in name order]
//
// Two element types are supported: F32 (the engine's native type) and F16
// (half precision, converted with github.com/x448/float16).
//
// Example usage:
//
//	stateDict := nn.StateDict(model)
//	err := serialization.WriteSafeTensors("model.safetensors", stateDict,
//	    map[string]string{"framework": "flexnas"}, serialization.WithDType(serialization.F16))
//
//	file, err := serialization.ReadSafeTensors("model.safetensors")
//	weight := file.Tensors["conv.weight"]
package serialization
