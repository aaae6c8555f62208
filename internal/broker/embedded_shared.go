package broker

import "sync"

// defaultEmbeddedKey identifies the process-wide default embedded broker:
// the instance Connect hands back when the caller names no explicit
// directory. It is kept open for the life of the process, mirroring the
// dispatcher's own process-wide singleton, so every Node in the process
// that dials the embedded backend with default settings lands on the same
// badger DB and the same in-memory pub/sub fan-out instead of each getting
// an isolated, mutually invisible broker.
const defaultEmbeddedKey = "\x00default"

var (
	embeddedMu       sync.Mutex
	embeddedRegistry = map[string]*embeddedRef{}
)

// embeddedRef ref-counts one shared embeddedClient, keyed by its backing
// directory (or defaultEmbeddedKey).
type embeddedRef struct {
	key       string
	client    *embeddedClient
	refs      int
	isDefault bool
}

// sharedEmbedded opens, or reuses, the embedded broker keyed by dir. An
// empty dir selects the process-wide default instance: created in its own
// temp directory on first use and never actually closed by Close, since it
// is meant to outlive any single Node. A non-empty dir is shared by
// ref-count among every caller that names that same directory, and is
// physically closed once the last holder releases it.
func sharedEmbedded(dir string) (Client, error) {
	key := dir
	isDefault := dir == ""
	if isDefault {
		key = defaultEmbeddedKey
	}

	embeddedMu.Lock()
	defer embeddedMu.Unlock()

	if ref, ok := embeddedRegistry[key]; ok {
		ref.refs++
		return &embeddedHandle{embeddedClient: ref.client, ref: ref}, nil
	}

	actualDir := dir
	if isDefault {
		d, err := osMkdirTemp()
		if err != nil {
			return nil, err
		}
		actualDir = d
	}

	c, err := newEmbeddedClient(actualDir)
	if err != nil {
		return nil, err
	}
	ref := &embeddedRef{key: key, client: c, refs: 1, isDefault: isDefault}
	embeddedRegistry[key] = ref
	return &embeddedHandle{embeddedClient: c, ref: ref}, nil
}

// embeddedHandle is the Client value Connect hands back for the embedded
// backend. It delegates every operation to the shared embeddedClient and
// turns Close into a ref-count release instead of an unconditional
// teardown, so one Node's DestroyNode can never pull the broker out from
// under another live Node sharing it.
type embeddedHandle struct {
	*embeddedClient
	ref *embeddedRef

	closeOnce sync.Once
}

func (h *embeddedHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.ref.isDefault {
			// The default instance is process-wide, like the dispatcher
			// singleton it backs; it outlives any single Node and is never
			// actually torn down here.
			return
		}

		embeddedMu.Lock()
		h.ref.refs--
		last := h.ref.refs <= 0
		if last {
			delete(embeddedRegistry, h.ref.key)
		}
		embeddedMu.Unlock()

		if last {
			err = h.embeddedClient.Close()
		}
	})
	return err
}
