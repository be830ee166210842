// Package sync implements the CV-to-registry synchronization engine.
//
// A sync run is a pipeline over immutable inputs:
//
//  1. Match: classify every local publication against the identity's
//     remote works (exact DOI, then external reference, then normalized
//     title+year).
//  2. Plan: turn the classification into an ordered action list
//     (create / update / skip) with payloads computed up front.
//  3. Execute: apply the actions one at a time against the registry,
//     collecting a result per action.
//
// Determinism is a design requirement, not an optimization. For fixed
// inputs the planner always emits the same actions in the same order with
// byte-identical payloads, which is what makes a dry run an exact preview
// of a real run: the executor consumes a dry-run flag at execution time,
// the plan itself never branches on it.
//
// Failure isolation: a failed action is recorded and the batch continues.
// Only authentication-level failures abort a run, and they do so before
// the first action executes.
package sync
