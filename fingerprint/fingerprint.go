// Package fingerprint canonicalizes operations, metric values, and check
// requests into stable byte-string keys. Fields are joined with a single
// NUL byte between them, mirroring the original implementation's
// delimiter choice (a plain "\0", chosen because it cannot appear in the
// identifying strings themselves) while replacing its MD5 hash with
// SHA-256 — the spec permits any cryptographic-strength digest and MD5
// has no place in new code.
package fingerprint

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/quotacore/quotapb"
)

const delimiter = "\x00"

// hasher accumulates NUL-delimited fields the same way the original's
// incremental MD5 hasher did, just backed by SHA-256.
type hasher struct {
	h [][]byte
}

func (h *hasher) add(s string) {
	h.h = append(h.h, []byte(s))
}

func (h *hasher) sum() []byte {
	digest := sha256.New()
	for i, b := range h.h {
		if i > 0 {
			digest.Write([]byte(delimiter))
		}
		digest.Write(b)
	}
	return digest.Sum(nil)
}

// canonicalLabels renders labels in a fixed byte order regardless of Go
// map iteration order, by marshaling to JSON (which already sorts map
// keys) and running the result through RFC 8785 JSON canonicalization —
// the same canonicalize-before-hash approach the rest of this codebase
// uses for label maps. This gives every distinct label set exactly one
// byte-string representation, independent of map iteration order.
func canonicalLabels(labels map[string]string) []byte {
	if len(labels) == 0 {
		return []byte("{}")
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		// labels is map[string]string; marshaling cannot fail.
		panic(err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		// raw is always a well-formed JSON object produced above.
		panic(err)
	}
	return canon
}

// MetricValue fingerprints a single metric value: its labels, plus the
// currency code when the value is a Money (two money values with the
// same labels but different currencies must never collide, since they
// can never be summed together).
func MetricValue(mv quotapb.MetricValue) []byte {
	h := &hasher{}
	h.add(string(canonicalLabels(mv.Labels)))
	if mv.Kind == quotapb.MoneyValue {
		h.add(mv.MoneyVal.CurrencyCode)
	}
	return h.sum()
}

// ReportOperation fingerprints an operation for the report cache:
// consumer id, operation name, and labels.
func ReportOperation(op quotapb.Operation) []byte {
	h := &hasher{}
	h.add(op.ConsumerID)
	h.add(op.OperationName)
	h.add(string(canonicalLabels(op.Labels)))
	return h.sum()
}

// CheckRequest fingerprints an admission-check request: operation name,
// consumer id, operation labels, then for each metric-value-set (in
// message order) the metric name followed by each metric value's own
// fingerprint.
func CheckRequest(req quotapb.CheckRequest) []byte {
	h := &hasher{}
	h.add(req.Operation.OperationName)
	h.add(req.Operation.ConsumerID)
	h.add(string(canonicalLabels(req.Operation.Labels)))

	for _, set := range req.Operation.MetricValueSets {
		h.add(set.MetricName)
		for _, mv := range set.MetricValues {
			h.add(string(MetricValue(mv)))
		}
	}
	return h.sum()
}
