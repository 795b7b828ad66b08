package condition

// Open question resolution (spec.md §9): `exists` on a path that walks
// through a missing object key or an out-of-range/non-array index returns
// satisfied=false for `exists: true` and satisfied=true for `exists: false`
// — absence is absence regardless of whether it's a short array or a
// missing field. See walkPath and evaluateClause.
