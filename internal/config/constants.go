package config

// SourceFileExtensions are all recognized program file extensions
var SourceFileExtensions = []string{".yaml", ".yml"}

// RewriteStepBudget bounds the number of chained virtual transformations
// (fresh/explore/focus/retract/unfocus/attach) the engine may apply while
// checking a single statement or driving a state toward a contract shape.
// A statement whose check does not converge within the budget is rejected
// rather than retried. This is a tunable, not a semantic constant: raising
// it admits deeper pointer structures at the cost of slower failure on
// genuinely un-canonicalizable states.
const RewriteStepBudget = 64

// UnifyStepBudget bounds the total number of merge/retract moves the branch
// unifier may spend reconciling the states flowing into one join point,
// heuristic phase and fallback search together. Exceeding it surfaces as a
// unification-failure diagnostic, which callers can work around with an
// explicit merge annotation instead of trusting inference indefinitely.
const UnifyStepBudget = 256
