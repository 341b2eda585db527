// Package kanban implements the shared Kanban board.
//
// # Model
//
// The whole board is one document (boards/main-board):
//
//	{columns: [{id, name}], tasks: {columnId: [Task]}}
//
// A task's status is the id of the column holding it. Subtasks, labels,
// comments and attachments are nested inside their task. The global label
// vocabulary is a separate document (settings/etiquettes).
//
// # Writes
//
// Every mutation reads the board, changes it in memory and writes the whole
// document back with a compare-and-swap on the document version. Writers in
// one process are serialized by a mutex; a write that loses to another
// instance is re-run from a fresh read up to three times before ErrConflict
// is returned.
//
// Blobs referenced by removed tasks, attachments and file comments are
// deleted only after the board write commits. Blob deletion is best-effort:
// failures are logged and counted and never fail the mutation.
//
// Each committed write publishes a board.updated event on topic
// "board:{id}".
package kanban
