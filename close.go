package maxsim

// Close releases the engine's resources, dropping cached chunk data and
// unmapping any memory-mapped files. Close is idempotent; operations issued
// after Close return ErrClosed.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}

	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	return e.ix.Close()
}
