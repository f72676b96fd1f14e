package ext4

// Journaling (jbd2) is out of scope for this core: every mutation here
// writes its blocks synchronously and in an order chosen to keep metadata
// self-consistent, but there is no write-ahead log and no replay on open.
// start/abort exist so a caller can bracket a multi-step operation and get
// a consistent error path; neither currently does more than that.

type journalHandle struct {
	fs *FileSystem
}

// start begins a journal handle for a multi-step metadata operation. This
// core has no log to append to, so it is a no-op beyond bookkeeping the
// association; it exists so callers (and future journal support) have a
// single place to bracket a transaction.
func (fs *FileSystem) start() *journalHandle {
	return &journalHandle{fs: fs}
}

// abort discards a journal handle. Since no log entries were buffered,
// there is nothing to roll back; on-disk state reflects whatever writes
// already completed before abort was called.
func (h *journalHandle) abort() {}
