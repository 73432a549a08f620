// Package testutil provides shared test utilities for vaultloop.
//
// # Fixtures
//
// The fixtures.go file builds task documents:
//
//   - TaskDocument(steps...) - a file_review task with an open checklist
//   - TaskDocumentWithType(type, steps...) - the same with a custom type
//   - SampleSteps() - the three default intake steps
//   - NumberedSteps(n) - n safe steps, for budget tests
//
// # Environment Helpers
//
// The env.go file provides vault setup:
//
//   - SetupVault(t) - creates a temp vault with every directory and a store
//   - WriteTask(t, layout, name, content) - writes a document to Needs_Action
//   - Age(t, path, d) - backdates a file's modification time
//   - ReadFile(t, path) - reads a file or fails the test
//
// # Assertions
//
// The assertions.go file provides custom test assertions:
//
//   - AssertTaskStatus(t, store, id, status) - checks a task record
//   - AssertStepMarks(t, path, marks) - checks checklist marks by position
//   - AssertInDir(t, dir, name), AssertNotInDir(t, dir, name)
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    layout, store := testutil.SetupVault(t)
//	    testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("log the event"))
//	    // ... run test ...
//	    testutil.AssertTaskStatus(t, store, "task_a.md", state.StatusCompleted)
//	}
package testutil
