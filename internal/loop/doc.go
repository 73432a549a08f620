// Package loop runs the per-task step executor (the "Ralph loop").
//
// Each visit to a task resumes from its stored progress and walks the
// document's checklist:
//   - steps already checked off are skipped
//   - risky steps are handed to the approval gate and the visit ends
//   - safe steps are executed through an ActionRouter and checked off
//
// At most Limits.MaxIterations steps are executed per visit. When every step
// is resolved the document is finalized and moved to Done/.
//
// The package also exposes the status hooks recovery uses to mirror
// quarantine, retry and exhaustion into task records.
package loop
