// Package pricing fetches per-currency price lists from the configured
// upstream and memoizes them in the disk cache. The upstream answers
// GET <Upstream>/prices/<CURRENCY> with an object keyed by product id whose
// values carry normalized "full" and "discounted" prices; this package only
// reads those numbers back and never recomputes them.
package pricing
