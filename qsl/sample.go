package qsl

import "time"

// Sample is one labeled unit of input data, addressable by its stable
// index into the corpus. Immutable once constructed.
type Sample struct {
	// Index is the sample's position in the corpus.
	Index int
	// Label is the ground-truth class for the sample.
	Label int
	// Raw is the encoded payload, decoded on demand by the pipeline.
	Raw []byte
	// Created is captured at construction; latency measured against it
	// uses the monotonic clock carried by time.Time.
	Created time.Time
}

// NewSample creates a sample with its creation timestamp.
func NewSample(index, label int, raw []byte) Sample {
	return Sample{
		Index:   index,
		Label:   label,
		Raw:     raw,
		Created: time.Now(),
	}
}
