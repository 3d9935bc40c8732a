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

// TensorMeta describes one tensor stored in a SafeTensors file.
type TensorMeta struct {
	Name   string
	DType  DType
	Shape  tensor.Shape
	Offset int64 // Offset in data section
	Size   int64 // Size in bytes
}

// SafeTensorsFile is a decoded SafeTensors file.
type SafeTensorsFile struct {
	Metadata map[string]string
	Tensors  map[string]*tensor.RawTensor
	Meta     []TensorMeta // Sorted by name
}

// ReadSafeTensors reads and validates a SafeTensors file.
func ReadSafeTensors(path string) (*SafeTensorsFile, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return ReadSafeTensorsFrom(bufio.NewReader(file))
}

// ReadSafeTensorsFrom decodes a SafeTensors stream. F16 tensors are widened
// to float32.
func ReadSafeTensorsFrom(r io.Reader) (*SafeTensorsFile, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &rawHeader); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	file := &SafeTensorsFile{Tensors: make(map[string]*tensor.RawTensor)}
	for name, msg := range rawHeader {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &file.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}
		if err := ValidateTensorName(name); err != nil {
			return nil, err
		}
		var h SafeTensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, fmt.Errorf("failed to parse tensor %q: %w", name, err)
		}
		dtype, err := parseDType(h.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		shape := make(tensor.Shape, len(h.Shape))
		for i, d := range h.Shape {
			shape[i] = int(d)
		}
		file.Meta = append(file.Meta, TensorMeta{
			Name:   name,
			DType:  dtype,
			Shape:  shape,
			Offset: h.DataOffsets[0],
			Size:   h.DataOffsets[1] - h.DataOffsets[0],
		})
	}
	sort.Slice(file.Meta, func(i, j int) bool { return file.Meta[i].Name < file.Meta[j].Name })

	if err := ValidateTensorOffsets(file.Meta, int64(len(data))); err != nil {
		return nil, err
	}

	for _, m := range file.Meta {
		if m.Size != int64(m.Shape.NumElements()*m.DType.Size()) {
			return nil, &ValidationError{
				Type:    "size_mismatch",
				Tensor:  m.Name,
				Details: fmt.Sprintf("shape %v needs %d bytes, got %d", m.Shape, m.Shape.NumElements()*m.DType.Size(), m.Size),
			}
		}
		raw, err := tensor.RawFromSlice(m.DType.decode(data[m.Offset:m.Offset+m.Size]), m.Shape, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", m.Name, err)
		}
		file.Tensors[m.Name] = raw
	}
	return file, nil
}
