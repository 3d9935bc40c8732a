// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// Module interface defines the common interface for all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// MultiInputModule is a module consuming several tensors.
type MultiInputModule[B tensor.Backend] = nn.MultiInputModule[B]

// Container is implemented by modules that own named children.
type Container[B tensor.Backend] = nn.Container[B]

// NamedModule pairs a child module with its attribute name.
type NamedModule[B tensor.Backend] = nn.NamedModule[B]

// Parameter represents a trainable parameter in a neural network.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NamedParameter pairs a parameter with its qualified name.
type NamedParameter[B tensor.Backend] = nn.NamedParameter[B]

// FeaturesRole describes how a module acts on the feature axis.
type FeaturesRole = nn.FeaturesRole

// Features roles.
const (
	RoleDefining    = nn.RoleDefining
	RolePropagating = nn.RolePropagating
	RoleCombining   = nn.RoleCombining
)

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// NamedParameters returns the parameters of m with qualified names.
func NamedParameters[B tensor.Backend](m Module[B]) []NamedParameter[B] {
	return nn.NamedParameters(m, "")
}

// CountParameters returns the number of scalar parameters of m.
func CountParameters[B tensor.Backend](m Module[B]) int {
	return nn.CountParameters(m)
}

// StateDict maps the qualified names of m's parameters to their raw tensors,
// ready for serialization.
func StateDict[B tensor.Backend](m Module[B]) map[string]*tensor.RawTensor {
	return nn.StateDict(m)
}

// SetTraining switches m and its descendants between training and inference.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	nn.SetTraining(m, training)
}

// Layers

// Linear represents a fully connected (dense) layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a new linear layer with Xavier initialization.
//
// Example:
//
//	backend := cpu.New()
//	layer := nn.NewLinear(784, 128, backend)
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// ConvConfig holds convolution hyperparameters.
type ConvConfig = nn.ConvConfig

// Conv1d represents a 1D convolutional layer.
type Conv1d[B tensor.Backend] = nn.Conv1d[B]

// NewConv1d creates a new 1D convolutional layer.
//
// Example:
//
//	conv := nn.NewConv1d(3, 32, 5, nn.ConvConfig{Padding: 2}, backend)
func NewConv1d[B tensor.Backend](inChannels, outChannels, kernelSize int, cfg ConvConfig, backend B) *Conv1d[B] {
	return nn.NewConv1d(inChannels, outChannels, kernelSize, cfg, backend)
}

// Conv2d represents a 2D convolutional layer.
type Conv2d[B tensor.Backend] = nn.Conv2d[B]

// NewConv2d creates a new 2D convolutional layer.
func NewConv2d[B tensor.Backend](inChannels, outChannels, kernelSize int, cfg ConvConfig, backend B) *Conv2d[B] {
	return nn.NewConv2d(inChannels, outChannels, kernelSize, cfg, backend)
}

// BatchNorm represents batch normalization.
type BatchNorm[B tensor.Backend] = nn.BatchNorm[B]

// NewBatchNorm1d creates batch normalization for [N, C] or [N, C, L] inputs.
func NewBatchNorm1d[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	return nn.NewBatchNorm1d(numFeatures, backend)
}

// NewBatchNorm2d creates batch normalization for [N, C, H, W] inputs.
func NewBatchNorm2d[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	return nn.NewBatchNorm2d(numFeatures, backend)
}

// AvgPool1d represents 1D average pooling.
type AvgPool1d[B tensor.Backend] = nn.AvgPool1d[B]

// NewAvgPool1d creates 1D average pooling.
func NewAvgPool1d[B tensor.Backend](kernel, stride int) *AvgPool1d[B] {
	return nn.NewAvgPool1d[B](kernel, stride)
}

// AvgPool2d represents 2D average pooling.
type AvgPool2d[B tensor.Backend] = nn.AvgPool2d[B]

// NewAvgPool2d creates 2D average pooling.
func NewAvgPool2d[B tensor.Backend](kernel, stride int) *AvgPool2d[B] {
	return nn.NewAvgPool2d[B](kernel, stride)
}

// MaxPool2d represents 2D max pooling.
type MaxPool2d[B tensor.Backend] = nn.MaxPool2d[B]

// NewMaxPool2d creates 2D max pooling.
func NewMaxPool2d[B tensor.Backend](kernel, stride int) *MaxPool2d[B] {
	return nn.NewMaxPool2d[B](kernel, stride)
}

// Dropout represents dropout regularization.
type Dropout[B tensor.Backend] = nn.Dropout[B]

// NewDropout creates a dropout layer.
func NewDropout[B tensor.Backend](p float32) *Dropout[B] {
	return nn.NewDropout[B](p)
}

// Identity returns its input.
type Identity[B tensor.Backend] = nn.Identity[B]

// NewIdentity creates an identity layer.
func NewIdentity[B tensor.Backend]() *Identity[B] {
	return nn.NewIdentity[B]()
}

// Flatten merges all dimensions but the batch one.
type Flatten[B tensor.Backend] = nn.Flatten[B]

// NewFlatten creates a flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return nn.NewFlatten[B]()
}

// Activations

// ReLU represents the Rectified Linear Unit activation function.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a new ReLU activation layer.
//
// Example:
//
//	relu := nn.NewReLU[*cpu.Backend]()
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return nn.NewReLU[B]()
}

// ReLU6 represents min(max(x, 0), 6).
type ReLU6[B tensor.Backend] = nn.ReLU6[B]

// NewReLU6 creates a new ReLU6 activation layer.
func NewReLU6[B tensor.Backend]() *ReLU6[B] {
	return nn.NewReLU6[B]()
}

// Containers

// Sequential chains modules.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// ModuleList holds submodules by index.
type ModuleList[B tensor.Backend] = nn.ModuleList[B]

// NewModuleList creates a ModuleList.
func NewModuleList[B tensor.Backend](modules ...Module[B]) *ModuleList[B] {
	return nn.NewModuleList(modules...)
}

// Loss functions

// MSELoss represents mean squared error loss.
type MSELoss[B tensor.Backend] = nn.MSELoss[B]

// NewMSELoss creates an MSE loss.
func NewMSELoss[B tensor.Backend]() *MSELoss[B] {
	return nn.NewMSELoss[B]()
}
