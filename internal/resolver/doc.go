// Package resolver computes the startup order for a set of modules from
// their declared dependency lists.
//
// Resolution is a pure function over its inputs: given the same module set
// in the same order, the output order is identical. Ties are broken by
// discovery order (the order names arrive in), not lexicographically, so
// hosts control relative ordering of independent modules by registration
// order.
package resolver
