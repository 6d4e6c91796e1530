// Package quota tracks the remote service's usage allowance for restricted
// tiers and classifies quota-exhaustion failures apart from other upload
// errors.
package quota
