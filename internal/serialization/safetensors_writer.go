package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/flexnas/internal/tensor"
)

// SafeTensorsWriter writes models in SafeTensors format.
// SafeTensors is the standard format for HuggingFace models.
type SafeTensorsWriter struct {
	file   *os.File
	dtype  DType
	closed bool
}

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriterOption configures a SafeTensorsWriter.
type WriterOption func(w *SafeTensorsWriter)

// WithDType selects the element type written for every tensor (default F32).
func WithDType(dtype DType) WriterOption {
	return func(w *SafeTensorsWriter) {
		w.dtype = dtype
	}
}

// NewSafeTensorsWriter creates a new SafeTensors file writer.
func NewSafeTensorsWriter(path string, opts ...WriterOption) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	w := &SafeTensorsWriter{file: file, dtype: F32}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// WriteSafeTensors writes tensors to a SafeTensors file.
//
// Tensors are written in alphabetical order by name.
func WriteSafeTensors(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string, opts ...WriterOption) error {
	writer, err := NewSafeTensorsWriter(path, opts...)
	if err != nil {
		return err
	}
	if err := writer.WriteStateDict(tensors, metadata); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// WriteStateDict writes a state dictionary to the SafeTensors file.
func (w *SafeTensorsWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	buf := bufio.NewWriter(w.file)
	if err := WriteSafeTensorsTo(buf, stateDict, metadata, w.dtype); err != nil {
		return err
	}
	return buf.Flush()
}

// WriteSafeTensorsTo encodes a state dictionary to an arbitrary writer.
//
// Format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]
func WriteSafeTensorsTo(out io.Writer, stateDict map[string]*tensor.RawTensor, metadata map[string]string, dtype DType) error {
	if _, err := parseDType(string(dtype)); err != nil {
		return err
	}

	// Sort tensor names alphabetically (SafeTensors requirement)
	tensorNames := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		tensorNames = append(tensorNames, name)
	}
	sort.Strings(tensorNames)

	header := make(map[string]any, len(tensorNames)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var currentOffset int64
	for _, name := range tensorNames {
		raw := stateDict[name]
		size := int64(raw.NumElements() * dtype.Size())

		shape := raw.Shape()
		shapeInt64 := make([]int64, len(shape))
		for i, dim := range shape {
			shapeInt64[i] = int64(dim)
		}

		header[name] = SafeTensorHeader{
			DType:       string(dtype),
			Shape:       shapeInt64,
			DataOffsets: [2]int64{currentOffset, currentOffset + size},
		}
		currentOffset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	// Write header size (8 bytes, little-endian uint64)
	if err := binary.Write(out, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := out.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var buf []byte
	for _, name := range tensorNames {
		buf = dtype.encode(buf[:0], stateDict[name].Data())
		if _, err := out.Write(buf); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the writer and the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
