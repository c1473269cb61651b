package state

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"github.com/stretchr/testify/assert"
)

func TestStoreSetAndSnapshot(t *testing.T) {

	assert := assert.New(t)

	s := NewStore([]string{"sensor.t_boiler", "switch.ch_enable", "sensor.t_boiler"})
	assert.Len(s.All(), 2)

	snap, ok := s.Get("sensor.t_boiler")
	assert.True(ok)
	assert.Nil(snap.Value)
	assert.True(snap.Available)

	now := time.Unix(1000, 0)
	assert.True(s.Set("sensor.t_boiler", opentherm.Float(25), now))
	assert.False(s.Set("sensor.t_boiler", opentherm.Float(25), now.Add(time.Second)), "same value")
	assert.True(s.Set("sensor.t_boiler", opentherm.Float(26), now.Add(2*time.Second)))

	snap, _ = s.Get("sensor.t_boiler")
	assert.Equal(opentherm.Float(26), *snap.Value)
	assert.Equal(now.Add(2*time.Second), snap.Updated)

	s.MarkUnavailable("sensor.t_boiler")
	assert.False(s.Available("sensor.t_boiler"))
	assert.True(s.Set("sensor.t_boiler", opentherm.Float(26), now), "available again")
	assert.True(s.Available("sensor.t_boiler"))

	assert.False(s.Set("sensor.unknown", opentherm.Float(1), now))
	_, ok = s.Get("sensor.unknown")
	assert.False(ok)
}

func TestStoreLearnedBounds(t *testing.T) {

	assert := assert.New(t)

	s := NewStore([]string{"input.t_set"})
	min, max := s.Learned("input.t_set")
	assert.Nil(min)
	assert.Nil(max)

	s.SetLearned("input.t_set", true, 80)
	s.SetLearned("input.t_set", false, 20)
	min, max = s.Learned("input.t_set")
	assert.Equal(20.0, *min)
	assert.Equal(80.0, *max)

	s.SetLearned("input.t_set", true, 70)
	_, max = s.Learned("input.t_set")
	assert.Equal(70.0, *max)
}

func TestStoreRaw(t *testing.T) {

	assert := assert.New(t)

	s := NewStore(nil)
	_, ok := s.Raw(opentherm.Status)
	assert.False(ok)

	s.SetRaw(opentherm.Status, 0x0300)
	v, ok := s.Raw(opentherm.Status)
	assert.True(ok)
	assert.Equal(uint16(0x0300), v)
}

func TestStoreConcurrentReaders(t *testing.T) {

	s := NewStore([]string{"sensor.t_boiler"})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					s.Set("sensor.t_boiler", opentherm.Integer(int32(j)), time.Unix(int64(j), 0))
				} else {
					snap, _ := s.Get("sensor.t_boiler")
					if snap.Value != nil {
						n, _ := snap.Value.Number()
						assert.Equal(t, time.Unix(int64(n), 0), snap.Updated, "value and timestamp are consistent")
					}
				}
			}
		}(i)
	}
	wg.Wait()
}
