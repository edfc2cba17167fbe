package ingest

// ChangeOp classifies one file change between two commits.
type ChangeOp string

const (
	OpAdd    ChangeOp = "A"
	OpModify ChangeOp = "M"
	OpDelete ChangeOp = "D"
)

// Change is one entry of an incremental sync plan. Renames arrive as a
// delete of the old path plus a modify of the new one.
type Change struct {
	Op   ChangeOp
	Path string

	// PathIsPrefix widens a delete to everything under Path. Emitted
	// when a removed submodule's file list is unavailable.
	PathIsPrefix bool
}
