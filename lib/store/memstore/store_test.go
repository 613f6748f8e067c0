package memstore

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	id := common.ObjectIDFromData([]byte("hello"))

	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.False(t, s.Has(id))

	require.NoError(t, s.Put(id, []byte("hello")))
	data, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(5), s.Size())

	// replace
	require.NoError(t, s.Put(id, []byte("hi")))
	assert.Equal(t, int64(2), s.Size())
	assert.Equal(t, 1, s.Len())

	s.Delete(id)
	s.Delete(id)
	assert.False(t, s.Has(id))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.Size())
}

func TestMemStoreConcurrent(t *testing.T) {
	s := NewMemStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i), byte(i), byte(i)}
			id := common.ObjectIDFromData(payload)
			for j := 0; j < 100; j++ {
				_ = s.Put(id, payload)
				if j%2 == 0 {
					s.Delete(id)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.Size())
}
