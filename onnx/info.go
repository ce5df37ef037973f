package onnx

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

type TensorInfo struct {
	Name  string
	Shape []int64
	DType string
}

func (t TensorInfo) String() string {
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		if d < 0 {
			dims[i] = "?"
		} else {
			dims[i] = fmt.Sprint(d)
		}
	}
	return fmt.Sprintf("%s %s[%s]", t.Name, t.DType, strings.Join(dims, ","))
}

// Describe lists a model's inputs and outputs without creating a session.
func Describe(path string) (inputs, outputs []TensorInfo, err error) {
	in, out, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	return convertInfo(in), convertInfo(out), nil
}

func convertInfo(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, TensorInfo{
			Name:  i.Name,
			Shape: []int64(i.Dimensions),
			DType: dtypeName(i.DataType),
		})
	}
	return out
}

func dtypeName(t ort.TensorElementDataType) string {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return "float32"
	case ort.TensorElementDataTypeInt32:
		return "int32"
	case ort.TensorElementDataTypeInt64:
		return "int64"
	case ort.TensorElementDataTypeDouble:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", int(t))
	}
}

// fixedShape replaces dynamic dimensions with 1 (the batch axis) and checks
// that the last axis is known or supplied.
func fixedShape(dims []int64, last int) ([]int64, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("scalar tensors are not supported")
	}
	shape := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		shape[i] = d
	}
	n := len(shape) - 1
	switch {
	case last > 0 && dims[n] > 0 && dims[n] != int64(last):
		return nil, fmt.Errorf("last dimension is %d, expected %d", dims[n], last)
	case last > 0:
		shape[n] = int64(last)
	case dims[n] <= 0:
		return nil, fmt.Errorf("last dimension is dynamic and no size was configured")
	}
	return shape, nil
}

func elements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
