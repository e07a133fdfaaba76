// Package compliance validates the regulatory codes a commit declares.
//
// Validation is exact membership in a versioned code catalog: a code is
// valid only if its framework enumerates it literally. There is no fuzzy
// matching, so a plausible but fabricated citation is always rejected.
// The catalog also maps frameworks to the repository paths they regulate,
// which lets [Validator.CheckConsistency] flag commits that touch
// regulated code without declaring codes or impact.
//
// Catalogs are immutable. [Validator.Swap] and [Watch] replace the whole
// object, so concurrent validations always see one consistent version.
package compliance
