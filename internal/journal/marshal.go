package journal

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/mintgate/internal/digest"
	"github.com/roach88/mintgate/internal/guard"
)

// marshalFailures converts failures to canonical JSON TEXT for storage.
func marshalFailures(fs []guard.Failure) (string, error) {
	arr := make(digest.Array, len(fs))
	for i, f := range fs {
		arr[i] = digest.Object{"condition": string(f.Condition), "reason": f.Reason}
	}
	data, err := digest.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal failures: %w", err)
	}
	return string(data), nil
}

// marshalPayments converts payments to canonical JSON TEXT for storage.
func marshalPayments(ps []guard.Payment) (string, error) {
	arr := make(digest.Array, len(ps))
	for i, p := range ps {
		obj := digest.Object{"condition": string(p.Condition), "amount": p.Amount}
		if p.Mint != "" {
			obj["mint"] = p.Mint
		}
		if p.Covered != nil {
			obj["covered"] = *p.Covered
		}
		arr[i] = obj
	}
	data, err := digest.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal payments: %w", err)
	}
	return string(data), nil
}

// unmarshalFailures parses stored failures. Returns nil for an empty list.
func unmarshalFailures(data string) ([]guard.Failure, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var fs []guard.Failure
	if err := json.Unmarshal([]byte(data), &fs); err != nil {
		return nil, fmt.Errorf("unmarshal failures: %w", err)
	}
	return fs, nil
}

// unmarshalPayments parses stored payments. Amounts decode straight into
// uint64, so values above 2^53 survive.
func unmarshalPayments(data string) ([]guard.Payment, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ps []guard.Payment
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return nil, fmt.Errorf("unmarshal payments: %w", err)
	}
	return ps, nil
}
