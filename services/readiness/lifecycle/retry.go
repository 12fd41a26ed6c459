// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import "github.com/AleutianAI/ModelKeeper/services/readiness/installer"

// RetryPolicy bounds install attempts per artifact. Attempts are immediate
// re-invocations; there is no backoff.
type RetryPolicy struct {
	// MaxAttempts is the budget for non-transient failures. Default 3.
	MaxAttempts int

	// TransientMaxAttempts replaces the budget once any attempt for the
	// artifact fails transiently. Default 5.
	TransientMaxAttempts int
}

// DefaultRetryPolicy returns the 3/5 budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, TransientMaxAttempts: 5}
}

// normalized fills zero or inconsistent fields with defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.TransientMaxAttempts <= 0 {
		p.TransientMaxAttempts = d.TransientMaxAttempts
	}
	if p.TransientMaxAttempts < p.MaxAttempts {
		p.TransientMaxAttempts = p.MaxAttempts
	}
	return p
}

// budgetAfter returns the attempt budget after f, given the current budget.
func (p RetryPolicy) budgetAfter(current int, f *installer.Failure) int {
	if f.Transient() && current < p.TransientMaxAttempts {
		return p.TransientMaxAttempts
	}
	return current
}
