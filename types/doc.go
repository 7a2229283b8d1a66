// Package types defines the shared domain types of the siteflow engine:
// element references, action steps and results, workflow outcomes, learned
// site patterns, and the coded error values exchanged between components.
//
// The package has no dependencies on other siteflow packages so that every
// component can exchange these values without import cycles.
package types
