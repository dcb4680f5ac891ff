package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/mintgate/internal/eligibility"
	"github.com/roach88/mintgate/internal/guard"
)

// Domain prefixes. The version suffix allows changing the encoding later.
const (
	DomainVerdicts = "mintgate/verdicts/v1"
	DomainResult   = "mintgate/result/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Verdicts digests an ordered verdict list.
func Verdicts(vs []guard.Verdict) (string, error) {
	data, err := MarshalCanonical(verdictArray(vs))
	if err != nil {
		return "", fmt.Errorf("digest verdicts: %w", err)
	}
	return hashWithDomain(DomainVerdicts, data), nil
}

// Result digests an aggregated result, including the summary fields.
func Result(res eligibility.Result) (string, error) {
	obj := Object{
		"verdicts":    verdictArray(res.Verdicts),
		"any_allowed": res.AnyAllowed,
	}
	if res.BestLabel != "" {
		obj["best_label"] = res.BestLabel
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("digest result: %w", err)
	}
	return hashWithDomain(DomainResult, data), nil
}

func verdictArray(vs []guard.Verdict) Array {
	arr := make(Array, len(vs))
	for i, v := range vs {
		arr[i] = verdictObject(v)
	}
	return arr
}

// verdictObject mirrors the JSON shape of guard.Verdict. Empty optional
// fields are omitted.
func verdictObject(v guard.Verdict) Object {
	obj := Object{
		"label":      v.Label,
		"allowed":    v.Allowed,
		"max_amount": v.MaxAmount,
	}
	if v.Reason != "" {
		obj["reason"] = v.Reason
	}
	if len(v.Failures) > 0 {
		fails := make(Array, len(v.Failures))
		for i, f := range v.Failures {
			fails[i] = Object{"condition": string(f.Condition), "reason": f.Reason}
		}
		obj["failures"] = fails
	}
	if len(v.Payments) > 0 {
		pays := make(Array, len(v.Payments))
		for i, p := range v.Payments {
			po := Object{"condition": string(p.Condition), "amount": p.Amount}
			if p.Mint != "" {
				po["mint"] = p.Mint
			}
			if p.Covered != nil {
				po["covered"] = *p.Covered
			}
			pays[i] = po
		}
		obj["payments"] = pays
	}
	return obj
}
