package backend

// NullBackend is the degenerate variant used as a placeholder registry
// slot or a sentinel "no backend configured" value. Init succeeds with
// a zero-length data region; every other operation is a no-op.
type NullBackend struct {
	base
}

var _ Backend = (*NullBackend)(nil)

func (n *NullBackend) Init(uint64, string) error {
	if n.IsInitialized() {
		return ErrAlreadyInitialized
	}
	n.header = Header{Variant: uint32(VariantNull)}
	n.header.stampVersion()
	n.header.setInitialized()
	n.data = nil
	n.markInitOwned(true)
	return nil
}

func (n *NullBackend) Attach(string) error {
	return ErrAttachUnsupported
}

func (n *NullBackend) Detach() error {
	return nil
}

func (n *NullBackend) Destroy() error {
	return nil
}

func (n *NullBackend) Variant() Variant { return VariantNull }
