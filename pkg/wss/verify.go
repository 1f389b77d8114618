// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

// CheckReceiverResults reports whether results were produced by exactly the
// expected actions in the expected order. A mismatch is not an error.
func CheckReceiverResults(expected []Action, results []*Result) bool {
	if len(expected) != len(results) {
		return false
	}
	for i, r := range results {
		if r == nil || r.Action() != expected[i] {
			return false
		}
	}
	return true
}

// CheckReceiverResultsAnyOrder reports whether results were produced by the
// expected actions in any order, with matching multiplicities.
func CheckReceiverResultsAnyOrder(expected []Action, results []*Result) bool {
	if len(expected) != len(results) {
		return false
	}
	// each result consumes the first unconsumed matching expectation
	consumed := make([]bool, len(expected))
	for _, r := range results {
		if r == nil {
			return false
		}
		matched := false
		for i, a := range expected {
			if !consumed[i] && a == r.Action() {
				consumed[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
