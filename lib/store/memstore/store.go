package memstore

import (
	"sync/atomic"

	"github.com/ValentinKolb/dObj/lib/store"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/puzpuzpuz/xsync/v3"
)

type storeImpl struct {
	objects *xsync.MapOf[common.ObjectID, []byte]
	size    atomic.Int64
}

// NewMemStore creates an in-memory object store.
//
// Thread-safety: all methods are safe for concurrent use.
func NewMemStore() store.IObjectStore {
	return &storeImpl{
		objects: xsync.NewMapOf[common.ObjectID, []byte](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(id common.ObjectID, data []byte) error {
	s.objects.Compute(id, func(old []byte, loaded bool) ([]byte, bool) {
		s.size.Add(int64(len(data) - len(old)))
		return data, false
	})
	return nil
}

func (s *storeImpl) Get(id common.ObjectID) ([]byte, bool) {
	return s.objects.Load(id)
}

func (s *storeImpl) Has(id common.ObjectID) bool {
	_, ok := s.objects.Load(id)
	return ok
}

func (s *storeImpl) Delete(id common.ObjectID) {
	s.objects.Compute(id, func(old []byte, loaded bool) ([]byte, bool) {
		if loaded {
			s.size.Add(-int64(len(old)))
		}
		return nil, true
	})
}

func (s *storeImpl) Len() int {
	return s.objects.Size()
}

func (s *storeImpl) Size() int64 {
	return s.size.Load()
}
