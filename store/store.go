// Package store persists replicas to pebble. The layout follows the
// single-letter key spaces of the in-memory model:
//
//	'Y'                                  replica id || msgpack policy
//	'B' || u16 id_len || crdt_id         type tag || state || msgpack meta
//	'V'                                  causal context as sorted dots
//	'L' || u16 id_len || crdt_id || origin || u64 counter   delta bytes
//
// States and deltas go through the owning CRDT's codec; loading decodes
// them back through the registry, so every persisted type tag must be
// registered before Load.
package store

import (
	"encoding/binary"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/local-first-systems/replika"
	"github.com/local-first-systems/replika/causal"
	"github.com/local-first-systems/replika/crdt"
)

var writeOptions = pebble.WriteOptions{Sync: true}

// Open opens (or creates) a replica database directory.
func Open(dir string) (*pebble.DB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", dir)
	}
	return db, nil
}

// Save writes a full snapshot of the replica in one batch.
func Save(db *pebble.DB, r *replika.Replica) error {
	batch := db.NewBatch()
	defer func() { _ = batch.Close() }()

	if err := saveReplica(batch, r); err != nil {
		return err
	}
	if err := saveBindings(batch, r); err != nil {
		return err
	}
	if err := saveContext(batch, r.Context()); err != nil {
		return err
	}
	if err := saveLog(batch, r.Components()); err != nil {
		return err
	}

	if err := db.Apply(batch, &writeOptions); err != nil {
		return errors.Wrap(err, "store: apply snapshot")
	}
	return nil
}

// Load rebuilds the replica recorded in db.
func Load(db *pebble.DB) (*replika.Replica, error) {
	id, policy, err := loadReplica(db)
	if err != nil {
		return nil, err
	}
	crdts, err := loadBindings(db)
	if err != nil {
		return nil, err
	}
	ctx, err := loadContext(db)
	if err != nil {
		return nil, err
	}
	log, err := loadLog(db)
	if err != nil {
		return nil, err
	}
	return replika.Restore(id, policy, crdts, ctx, log), nil
}

func saveReplica(batch *pebble.Batch, r *replika.Replica) error {
	policy, err := msgpack.Marshal(map[string]string(r.Policy()))
	if err != nil {
		return errors.Wrap(err, "store: encode policy")
	}
	val := append([]byte{}, r.ID().Bytes()...)
	val = append(val, policy...)
	return batch.Set([]byte{'Y'}, val, nil)
}

func loadReplica(db *pebble.DB) (causal.ReplicaID, replika.Options, error) {
	val, closer, err := db.Get([]byte{'Y'})
	if err != nil {
		return causal.ReplicaID{}, nil, errors.Wrap(err, "store: no replica record")
	}
	defer func() { _ = closer.Close() }()

	if len(val) < causal.ReplicaIDLen {
		return causal.ReplicaID{}, nil, errors.New("store: short replica record")
	}
	id, err := causal.ReplicaIDFromBytes(val[:causal.ReplicaIDLen])
	if err != nil {
		return causal.ReplicaID{}, nil, err
	}
	var policy map[string]string
	if err := msgpack.Unmarshal(val[causal.ReplicaIDLen:], &policy); err != nil {
		return causal.ReplicaID{}, nil, errors.Wrap(err, "store: decode policy")
	}
	return id, replika.Options(policy), nil
}

func bindingKey(crdtID string) []byte {
	key := []byte{'B'}
	key = binary.BigEndian.AppendUint16(key, uint16(len(crdtID)))
	return append(key, crdtID...)
}

func saveBindings(batch *pebble.Batch, r *replika.Replica) error {
	for _, listing := range r.ListCrdts() {
		b, err := r.FetchCrdt(listing.ID)
		if err != nil {
			return err
		}
		impl, err := crdt.Lookup(b.Type)
		if err != nil {
			return err
		}
		state, err := impl.Encode(b.State)
		if err != nil {
			return errors.Wrapf(err, "store: encode state of %x", listing.ID)
		}
		meta, err := msgpack.Marshal(b.Meta)
		if err != nil {
			return errors.Wrapf(err, "store: encode meta of %x", listing.ID)
		}

		val := binary.BigEndian.AppendUint16(nil, uint16(len(b.Type)))
		val = append(val, b.Type...)
		val = binary.BigEndian.AppendUint32(val, uint32(len(state)))
		val = append(val, state...)
		val = append(val, meta...)
		if err := batch.Set(bindingKey(listing.ID), val, nil); err != nil {
			return err
		}
	}
	return nil
}

func loadBindings(db *pebble.DB) (map[string]*replika.Binding, error) {
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'B'},
		UpperBound: []byte{'C'},
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: iterate bindings")
	}
	defer func() { _ = it.Close() }()

	crdts := make(map[string]*replika.Binding)
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) < 3 {
			return nil, errors.New("store: short binding key")
		}
		idlen := int(binary.BigEndian.Uint16(key[1:3]))
		if len(key) != 3+idlen {
			return nil, errors.New("store: malformed binding key")
		}
		crdtID := string(key[3:])

		val := it.Value()
		if len(val) < 2 {
			return nil, errors.New("store: short binding record")
		}
		taglen := int(binary.BigEndian.Uint16(val[0:2]))
		if len(val) < 2+taglen+4 {
			return nil, errors.New("store: malformed binding record")
		}
		tag := string(val[2 : 2+taglen])
		statelen := int(binary.BigEndian.Uint32(val[2+taglen : 2+taglen+4]))
		rest := val[2+taglen+4:]
		if len(rest) < statelen {
			return nil, errors.New("store: malformed binding record")
		}

		impl, err := crdt.Lookup(tag)
		if err != nil {
			return nil, errors.Wrapf(err, "store: binding %x", crdtID)
		}
		state, err := impl.Decode(rest[:statelen])
		if err != nil {
			return nil, errors.Wrapf(err, "store: decode state of %x", crdtID)
		}
		var meta map[string]any
		if err := msgpack.Unmarshal(rest[statelen:], &meta); err != nil {
			return nil, errors.Wrapf(err, "store: decode meta of %x", crdtID)
		}

		crdts[crdtID] = &replika.Binding{Type: tag, State: state, Meta: meta}
	}
	return crdts, nil
}

func saveContext(batch *pebble.Batch, ctx causal.Context) error {
	dots := ctx.Dots()
	val := binary.BigEndian.AppendUint32(nil, uint32(len(dots)))
	for _, d := range sortDots(dots) {
		val = append(val, d.Src[:]...)
		val = binary.BigEndian.AppendUint64(val, d.Seq)
	}
	return batch.Set([]byte{'V'}, val, nil)
}

func loadContext(db *pebble.DB) (causal.Context, error) {
	val, closer, err := db.Get([]byte{'V'})
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return causal.NewContext(), nil
		}
		return nil, errors.Wrap(err, "store: context record")
	}
	defer func() { _ = closer.Close() }()

	if len(val) < 4 {
		return nil, errors.New("store: short context record")
	}
	count := binary.BigEndian.Uint32(val[0:4])
	rest := val[4:]
	dots := make([]causal.Dot, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < causal.ReplicaIDLen+8 {
			return nil, errors.New("store: malformed context record")
		}
		src, err := causal.ReplicaIDFromBytes(rest[:causal.ReplicaIDLen])
		if err != nil {
			return nil, err
		}
		seq := binary.BigEndian.Uint64(rest[causal.ReplicaIDLen : causal.ReplicaIDLen+8])
		dots = append(dots, causal.NewDot(src, seq))
		rest = rest[causal.ReplicaIDLen+8:]
	}
	return causal.ContextFromDots(dots...), nil
}

func logKey(crdtID string, origin causal.ReplicaID, counter uint64) []byte {
	key := []byte{'L'}
	key = binary.BigEndian.AppendUint16(key, uint16(len(crdtID)))
	key = append(key, crdtID...)
	key = append(key, origin[:]...)
	return binary.BigEndian.AppendUint64(key, counter)
}

func saveLog(batch *pebble.Batch, log *replika.Components) error {
	for _, crdtID := range log.CrdtIDs() {
		for _, origin := range log.Origins(crdtID) {
			for _, e := range log.Since(crdtID, origin, 0) {
				if err := batch.Set(logKey(crdtID, origin, e.Counter), e.Delta, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func loadLog(db *pebble.DB) (*replika.Components, error) {
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'L'},
		UpperBound: []byte{'M'},
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: iterate log")
	}
	defer func() { _ = it.Close() }()

	log := replika.NewComponents()
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) < 3 {
			return nil, errors.New("store: short log key")
		}
		idlen := int(binary.BigEndian.Uint16(key[1:3]))
		if len(key) != 3+idlen+causal.ReplicaIDLen+8 {
			return nil, errors.New("store: malformed log key")
		}
		crdtID := string(key[3 : 3+idlen])
		origin, err := causal.ReplicaIDFromBytes(key[3+idlen : 3+idlen+causal.ReplicaIDLen])
		if err != nil {
			return nil, err
		}
		counter := binary.BigEndian.Uint64(key[3+idlen+causal.ReplicaIDLen:])

		delta := append([]byte{}, it.Value()...)
		if err := log.Append(crdtID, origin, counter, delta); err != nil {
			return nil, errors.Wrap(err, "store: replay log")
		}
	}
	return log, nil
}

func sortDots(dots []causal.Dot) []causal.Dot {
	slices.SortFunc(dots, causal.Dot.Compare)
	return dots
}
