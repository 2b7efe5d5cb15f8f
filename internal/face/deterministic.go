package face

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"strconv"
)

// DefaultMatchThreshold is the confidence at or above which Deterministic reports a match.
const DefaultMatchThreshold = 0.9

// facesPrefix lets test images declare their face count: "faces:2\n<payload>".
var facesPrefix = []byte("faces:")

// Deterministic is a reproducible Capability. An image's descriptor is derived from a SHA-256 of its
// payload, so the same payload always yields the same descriptor and comparing it with itself gives
// confidence 1. Images without a faces: header contain exactly one face; empty images contain none.
type Deterministic struct {
	Threshold float64
}

// NewDeterministic returns a Deterministic with DefaultMatchThreshold.
func NewDeterministic() *Deterministic {
	return &Deterministic{Threshold: DefaultMatchThreshold}
}

// Image builds a test image with the given face count and payload.
func Image(faces int, payload string) []byte {
	return []byte("faces:" + strconv.Itoa(faces) + "\n" + payload)
}

// DescriptorOf returns the descriptor Deterministic derives for payload.
func DescriptorOf(payload []byte) Descriptor {
	sum := sha256.Sum256(payload)
	d := make(Descriptor, len(sum))
	for i, b := range sum {
		d[i] = float64(b) / 255
	}
	return d
}

func parseImage(image []byte) (faces int, payload []byte, err error) {
	if len(image) == 0 {
		return 0, nil, nil
	}
	if !bytes.HasPrefix(image, facesPrefix) {
		return 1, image, nil
	}
	header, rest, _ := bytes.Cut(image[len(facesPrefix):], []byte("\n"))
	n, err := strconv.Atoi(string(header))
	if err != nil || n < 0 {
		return 0, nil, errors.New("face: malformed faces header")
	}
	return n, rest, nil
}

func (d *Deterministic) Detect(ctx context.Context, image []byte) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	n, payload, err := parseImage(image)
	if err != nil {
		return Detection{}, err
	}
	det := Detection{FaceCount: n}
	if n == 1 {
		det.Descriptor = DescriptorOf(payload)
	}
	return det, nil
}

// Compare scores 1 minus the mean absolute difference of the two descriptors.
func (d *Deterministic) Compare(ctx context.Context, reference, live Descriptor) (Comparison, error) {
	if err := ctx.Err(); err != nil {
		return Comparison{}, err
	}
	if len(reference) == 0 || len(reference) != len(live) {
		return Comparison{}, errors.New("face: descriptor length mismatch")
	}
	var diff float64
	for i := range reference {
		diff += math.Abs(reference[i] - live[i])
	}
	conf := 1 - diff/float64(len(reference))
	conf = math.Max(0, math.Min(1, conf))
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return Comparison{Confidence: conf, Match: conf >= threshold}, nil
}
