// Package guard evaluates candy guard groups against wallet, time and supply
// state.
//
// The evaluator is a pure function: given the same group, wallet, time
// snapshot and mint state it always returns the same verdict. It performs no
// chain reads and keeps no state between calls, so callers can evaluate many
// groups against one consistent snapshot.
//
// VERDICTS:
//
// A group is allowed only when every condition it declares passes. The reason
// surfaced for a disallowed group is the first failure in a fixed precedence:
//
//  1. wallet not connected (wallet-dependent conditions without a wallet)
//  2. time window (start_date, end_date)
//  3. allow-list and gates (allow_list, token_gate, nft_gate, address_gate,
//     nft_burn, token_burn)
//  4. limits (redeemed_amount, allocation, mint_limit, remaining supply)
//
// Within one category, failures keep declaration order; the implicit supply
// limit reports after every declared limit. Payment conditions
// never disallow; they are recorded on the verdict for display and validated
// by the program at mint time.
//
// ERRORS:
//
// Disallowed is a verdict, not an error. Errors are reserved for
// configuration problems (unknown condition types, duplicate labels) and
// integrity violations of the mint state. See errors.go.
package guard
